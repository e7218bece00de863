package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/truenorthhq/truenorth-backend/internal/intake"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
	"github.com/truenorthhq/truenorth-backend/pkg/ftmeta"
)

// Phase is the client lifecycle: a client initializes exactly once, then
// stays ready for the rest of its life.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
)

// Message is one rendered conversation entry. Pending marks messages held
// in the offline queue that have not reached the server yet.
type Message struct {
	Role    string       `json:"role"`
	Content string       `json:"content"`
	Meta    *ftmeta.Meta `json:"meta,omitempty"`
	Pending bool         `json:"pending,omitempty"`
}

// Snapshot is a copy of the client's visible state.
type Snapshot struct {
	Phase    Phase
	Session  *Session
	Messages []Message
	Meta     ftmeta.Meta
}

// SendResult is the outcome of one send: either the server's reply, or
// Queued when the message was captured offline for later replay.
type SendResult struct {
	Queued bool
	Text   string
	Meta   ftmeta.Meta
}

// Options configures a Client. BaseURL and a token source are required;
// Queue and Monitor are optional and enable offline capture and replay.
type Options struct {
	BaseURL     string
	AccessToken string
	// TokenSource, when set, is consulted per request instead of
	// AccessToken. Lets hosts rotate tokens mid-session.
	TokenSource func(ctx context.Context) (string, error)
	HTTPClient  *http.Client
	Queue       *OfflineQueue
	Monitor     Monitor
	Log         *zap.SugaredLogger
	// Profile seeds the greeting for brand-new sessions.
	Profile Profile
}

// InitializeOptions selects which session to attach to. Explicit SessionID
// wins; ForceNew skips resume; otherwise the most recent resumable session
// is picked, falling back to a fresh one.
type InitializeOptions struct {
	SessionID *uuid.UUID
	ForceNew  bool
}

type Client struct {
	opts       Options
	httpClient *http.Client
	log        *logger.Logger
	classifier intake.Classifier

	mu        sync.Mutex
	phase     Phase
	session   *Session
	messages  []Message
	meta      ftmeta.Meta
	cancelSub func()

	replayMu sync.Mutex
}

func NewClient(opts Options) (*Client, error) {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("missing base url")
	}
	if opts.AccessToken == "" && opts.TokenSource == nil {
		return nil, fmt.Errorf("missing access token")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	var log *logger.Logger
	if opts.Log != nil {
		log = &logger.Logger{SugaredLogger: opts.Log}
	} else {
		var err error
		log, err = logger.New("production")
		if err != nil {
			return nil, err
		}
	}
	return &Client{
		opts:       opts,
		httpClient: httpClient,
		log:        log.With("client", "ChatClient"),
		classifier: intake.NewGenerationClassifier(),
		phase:      PhaseUninitialized,
	}, nil
}

// State returns a copy of the current client state.
func (c *Client) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Snapshot{Phase: c.phase, Meta: c.meta}
	if c.session != nil {
		copied := *c.session
		out.Session = &copied
	}
	out.Messages = append(out.Messages, c.messages...)
	return out
}

// Close detaches the connectivity subscription.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancelSub
	c.cancelSub = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

type historyMessage struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Meta      *ftmeta.Meta `json:"meta"`
	CreatedAt time.Time    `json:"created_at"`
}

type resolvedPayload struct {
	Session     *Session         `json:"session"`
	Messages    []historyMessage `json:"messages"`
	CurrentMeta *ftmeta.Meta     `json:"current_meta"`
	Created     bool             `json:"created"`
}

// Initialize attaches the client to exactly one session. It is one-shot:
// calling it again after success is a no-op, and a failed attempt resets
// the phase so the caller can retry.
func (c *Client) Initialize(ctx context.Context, opts InitializeOptions) error {
	c.mu.Lock()
	if c.phase != PhaseUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseInitializing
	c.mu.Unlock()

	payload, err := c.resolve(ctx, opts)
	if err != nil {
		c.mu.Lock()
		c.phase = PhaseUninitialized
		c.mu.Unlock()
		return err
	}

	session := payload.Session
	messages := make([]Message, 0, len(payload.Messages)+1)
	var meta ftmeta.Meta

	for _, m := range payload.Messages {
		messages = append(messages, Message{Role: m.Role, Content: m.Content, Meta: m.Meta})
	}

	// The loaded meta belongs to the newest assistant message that carries
	// one; later meta-less rows never contribute. Keep that row's content so
	// reconciliation inspects the text the meta was written against.
	var metaContent string
	for i := len(payload.Messages) - 1; i >= 0; i-- {
		m := payload.Messages[i]
		if m.Role == RoleAssistant && m.Meta != nil {
			metaContent = m.Content
			break
		}
	}

	if len(messages) == 0 {
		// Brand-new session: the greeting is deterministic and local, it
		// is never persisted server-side.
		welcome := intake.Welcome(intake.Profile{
			City:     c.opts.Profile.City,
			Province: c.opts.Profile.Province,
			FullName: c.opts.Profile.FullName,
		}, session.Progress)
		messages = append(messages, Message{Role: RoleAssistant, Content: welcome.Content, Meta: &welcome.Meta})
		meta = welcome.Meta
	} else {
		if payload.CurrentMeta != nil {
			meta = *payload.CurrentMeta
		}
		// Loaded metadata is a cache of a past turn; reconcile it against
		// the session before trusting it.
		reconciled, corrections := intake.Reconcile(meta, metaContent, session.Collected, session.Status)
		meta = reconciled
		for _, corr := range corrections {
			if corr.Kind == intake.CorrectionResetStatus {
				session.Status = corr.Status
				go c.patchStatus(session.ID, corr.Status)
			}
		}
	}

	var cancel func()
	if c.opts.Monitor != nil {
		cancel = c.opts.Monitor.Subscribe(func(online bool) {
			if online {
				go c.Replay(context.Background())
			}
		})
	}

	c.mu.Lock()
	c.session = session
	c.messages = messages
	c.meta = meta
	c.cancelSub = cancel
	c.phase = PhaseReady
	c.mu.Unlock()
	return nil
}

func (c *Client) resolve(ctx context.Context, opts InitializeOptions) (*resolvedPayload, error) {
	var out resolvedPayload

	if opts.SessionID != nil {
		status, body, err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+opts.SessionID.String(), nil, &out)
		if err == nil && status == http.StatusOK {
			return &out, nil
		}
		// A stale or foreign id degrades to a fresh session rather than
		// failing initialization.
		if err != nil {
			c.log.Warn("explicit session fetch failed, creating fresh session", "error", err)
		} else {
			c.log.Warn("explicit session unavailable, creating fresh session", "status", status, "body", body)
		}
		opts = InitializeOptions{ForceNew: true}
	}

	path := "/api/sessions/current"
	method := http.MethodGet
	if opts.ForceNew {
		path = "/api/sessions"
		method = http.MethodPost
	}
	status, body, err := c.doJSON(ctx, method, path, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("session resolution failed: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("session resolution failed: http %d: %s", status, body)
	}
	if out.Session == nil {
		return nil, fmt.Errorf("session resolution returned no session")
	}
	return &out, nil
}

func (c *Client) patchStatus(sessionID uuid.UUID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	body := map[string]string{"status": status}
	httpStatus, respBody, err := c.doJSON(ctx, http.MethodPatch, "/api/sessions/"+sessionID.String(), body, nil)
	if err != nil {
		c.log.Warn("status correction failed", "session_id", sessionID.String(), "error", err)
		return
	}
	if httpStatus != http.StatusOK {
		c.log.Warn("status correction rejected", "session_id", sessionID.String(), "status", httpStatus, "body", respBody)
	}
}

type turnRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

type turnResponse struct {
	Text string      `json:"text"`
	Meta ftmeta.Meta `json:"ft_meta"`
}

// SendMessage runs one chat turn. Offline, the message goes to the durable
// queue and the result reports Queued. Failures come back as *ErrorState
// with the four-kind taxonomy; only network failures carry a Retry.
func (c *Client) SendMessage(ctx context.Context, content string) (*SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty message")
	}

	c.mu.Lock()
	if c.phase != PhaseReady {
		c.mu.Unlock()
		return nil, fmt.Errorf("client not initialized")
	}
	session := c.session
	c.mu.Unlock()

	if c.opts.Monitor != nil && !c.opts.Monitor.Online() && c.opts.Queue != nil {
		if _, err := c.opts.Queue.Save(session.ID, content); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.messages = append(c.messages, Message{Role: RoleUser, Content: content, Pending: true})
		c.mu.Unlock()
		return &SendResult{Queued: true}, nil
	}

	reply, sendErr := c.postTurn(ctx, session.ID, content)
	if sendErr != nil {
		if state, ok := AsErrorState(sendErr); ok && state.Kind == KindNetwork {
			// The connection may have dropped mid-send; if we are offline
			// now, queue instead of surfacing a hard error.
			if c.opts.Monitor != nil && !c.opts.Monitor.Online() && c.opts.Queue != nil {
				if _, err := c.opts.Queue.Save(session.ID, content); err == nil {
					c.mu.Lock()
					c.messages = append(c.messages, Message{Role: RoleUser, Content: content, Pending: true})
					c.mu.Unlock()
					return &SendResult{Queued: true}, nil
				}
			}
			state.Retry = func() (*SendResult, error) {
				retryCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				defer cancel()
				return c.SendMessage(retryCtx, content)
			}
		}
		return nil, sendErr
	}

	meta := reply.Meta
	if ov, fired := c.classifier.Classify(reply.Text); fired {
		meta = intake.ApplyOverride(meta, ov)
	}

	c.mu.Lock()
	c.applyTurn(content, reply.Text, meta, false)
	c.mu.Unlock()

	return &SendResult{Text: reply.Text, Meta: meta}, nil
}

// applyTurn folds a completed turn into local state. Caller holds c.mu.
// When replayed is set, the user message already sits in the transcript as
// pending and is flipped to delivered instead of appended.
func (c *Client) applyTurn(userContent, assistantText string, meta ftmeta.Meta, replayed bool) {
	if replayed {
		for i := range c.messages {
			if c.messages[i].Pending && c.messages[i].Content == userContent {
				c.messages[i].Pending = false
				break
			}
		}
	} else {
		c.messages = append(c.messages, Message{Role: RoleUser, Content: userContent})
	}
	c.messages = append(c.messages, Message{Role: RoleAssistant, Content: assistantText, Meta: &meta})
	c.meta = meta

	if c.session != nil {
		if meta.Progress > c.session.Progress {
			c.session.Progress = meta.Progress
		}
		if !meta.Extracted.IsZero() {
			c.session.Collected = c.session.Collected.Merge(meta.Extracted)
		}
		if meta.Signal == ftmeta.SignalReadyToPay && c.session.Status == StatusIntake {
			c.session.Status = StatusReadyToPay
		}
	}
}

func (c *Client) postTurn(ctx context.Context, sessionID uuid.UUID, content string) (*turnResponse, error) {
	var out turnResponse
	status, body, err := c.doJSON(ctx, http.MethodPost, "/functions/ft_chat", turnRequest{
		SessionID:   sessionID.String(),
		UserMessage: content,
	}, &out)
	if err != nil {
		// No bearer token means the request never stood a chance; that is
		// an auth failure, not a connectivity one, and retrying without a
		// new token cannot help.
		if errors.Is(err, errNoToken) {
			return nil, &ErrorState{Kind: KindAuth, Message: "Your session expired. Please sign in again."}
		}
		return nil, &ErrorState{Kind: KindNetwork, Message: "Could not reach the server. Check your connection and try again."}
	}

	switch {
	case status == http.StatusOK:
		return &out, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &ErrorState{Kind: KindAuth, Message: serverMessage(body, "Your session expired. Please sign in again.")}
	case status == http.StatusTooManyRequests:
		return nil, &ErrorState{Kind: KindRateLimit, Message: serverMessage(body, "Too many messages. Please slow down.")}
	case status == http.StatusPaymentRequired:
		return nil, &ErrorState{Kind: KindQuota, Message: serverMessage(body, "You've run out of free messages.")}
	case status >= 500:
		return nil, &ErrorState{Kind: KindNetwork, Message: "The server had a problem. Please try again."}
	default:
		return nil, fmt.Errorf("chat turn failed: http %d: %s", status, body)
	}
}

// Replay drains the offline queue for the current session, oldest first.
// A failed record stays queued for the next online event and the rest still
// get their attempt; delivered entries are removed exactly once.
func (c *Client) Replay(ctx context.Context) {
	if c.opts.Queue == nil {
		return
	}
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	c.mu.Lock()
	if c.phase != PhaseReady || c.session == nil {
		c.mu.Unlock()
		return
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	pending, err := c.opts.Queue.ListPending(sessionID)
	if err != nil {
		c.log.Warn("offline replay listing failed", "error", err)
		return
	}

	for _, row := range pending {
		reply, err := c.postTurn(ctx, sessionID, row.Content)
		if err != nil {
			c.log.Warn("offline replay of message failed, leaving it queued", "queued_at", row.QueuedAt.Format(time.RFC3339), "error", err)
			continue
		}
		meta := reply.Meta
		if ov, fired := c.classifier.Classify(reply.Text); fired {
			meta = intake.ApplyOverride(meta, ov)
		}
		c.mu.Lock()
		c.applyTurn(row.Content, reply.Text, meta, true)
		c.mu.Unlock()
		if err := c.opts.Queue.Delete(row.ID); err != nil {
			c.log.Warn("failed to remove delivered message from queue", "error", err)
			return
		}
	}
}

// errNoToken marks requests that failed before leaving the client because
// no bearer token could be produced.
var errNoToken = errors.New("bearer token unavailable")

func (c *Client) token(ctx context.Context) (string, error) {
	if c.opts.TokenSource != nil {
		return c.opts.TokenSource(ctx)
	}
	return c.opts.AccessToken, nil
}

// doJSON runs one request. The error return is transport-level only, except
// that token resolution failures wrap errNoToken; non-2xx statuses come back
// in the status/body returns for the caller to classify.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) (int, string, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return 0, "", err
	}
	token, err := c.token(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", errNoToken, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.StatusCode, "", readErr
	}

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, string(raw), fmt.Errorf("response decode failed: %w", err)
		}
	}
	return resp.StatusCode, string(raw), nil
}

func serverMessage(body, fallback string) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return fallback
}
