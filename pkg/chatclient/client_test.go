package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/pkg/ftmeta"
)

func freshSession(status string, progress int, collected domain.CollectedData) *domain.Session {
	s := &domain.Session{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Status:   status,
		Progress: progress,
	}
	_ = s.SetCollected(collected)
	return s
}

func assistantMessage(t *testing.T, sessionID uuid.UUID, content string, meta domain.Meta) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.SetMeta(meta); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	return m
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func newTestClient(t *testing.T, baseURL string, extra func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:     baseURL,
		AccessToken: "test-token",
		Profile:     Profile{City: "Calgary", Province: "Alberta", FullName: "Dana Tremblay"},
	}
	if extra != nil {
		extra(&opts)
	}
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestInitializeFreshSessionShowsWelcome(t *testing.T) {
	session := freshSession(domain.StatusIntake, 0, domain.CollectedData{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/current" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"session":  session,
			"messages": []*domain.Message{},
			"created":  true,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	if err := c.Initialize(context.Background(), InitializeOptions{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	state := c.State()
	if state.Phase != PhaseReady {
		t.Fatalf("expected phase ready, got %s", state.Phase)
	}
	if len(state.Messages) != 1 {
		t.Fatalf("expected exactly the greeting, got %d messages", len(state.Messages))
	}
	greeting := state.Messages[0]
	if greeting.Role != domain.RoleAssistant {
		t.Fatalf("greeting role = %s", greeting.Role)
	}
	if !strings.Contains(greeting.Content, "Calgary") {
		t.Fatalf("greeting should mention the city, got %q", greeting.Content)
	}
	if state.Meta.Signal != domain.SignalContinue {
		t.Fatalf("expected CONTINUE, got %s", state.Meta.Signal)
	}
	if state.Meta.Progress != 15 {
		t.Fatalf("expected progress 15 with a known place, got %d", state.Meta.Progress)
	}
	if state.Meta.Extracted.City != "Calgary" || state.Meta.Extracted.Province != "Alberta" {
		t.Fatalf("greeting should pre-extract the profile place, got %+v", state.Meta.Extracted)
	}
}

func TestInitializeIsOneShot(t *testing.T) {
	var hits int32
	session := freshSession(domain.StatusIntake, 0, domain.CollectedData{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"session":  session,
			"messages": []*domain.Message{},
			"created":  true,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	for i := 0; i < 3; i++ {
		if err := c.Initialize(context.Background(), InitializeOptions{}); err != nil {
			t.Fatalf("Initialize #%d: %v", i+1, err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected a single resolution request, got %d", got)
	}
}

func TestInitializeDowngradesStaleReadyToPay(t *testing.T) {
	session := freshSession(domain.StatusReadyToPay, 90, domain.CollectedData{
		City: "Calgary", Province: "Alberta", Skills: "welding", UserConfirmed: false,
	})
	stale := domain.Meta{
		Extracted: session.Collected(),
		Progress:  90,
		Signal:    domain.SignalReadyToPay,
	}
	patched := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/"+session.ID.String():
			writeJSON(t, w, http.StatusOK, map[string]any{
				"session":      session,
				"messages":     []*domain.Message{assistantMessage(t, session.ID, "Ready to see your ideas?", stale)},
				"current_meta": stale,
				"created":      false,
			})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/sessions/"+session.ID.String():
			var req struct {
				Status string `json:"status"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			patched <- req.Status
			writeJSON(t, w, http.StatusOK, map[string]any{"success": "true"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	id := session.ID
	if err := c.Initialize(context.Background(), InitializeOptions{SessionID: &id}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	state := c.State()
	if state.Meta.Signal != domain.SignalContinue {
		t.Fatalf("unconfirmed READY_TO_PAY should downgrade to CONTINUE, got %s", state.Meta.Signal)
	}
	if state.Session.Status != domain.StatusIntake {
		t.Fatalf("local status should reset to intake, got %s", state.Session.Status)
	}

	select {
	case status := <-patched:
		if status != domain.StatusIntake {
			t.Fatalf("corrective write should patch status to intake, got %s", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("corrective status write never arrived")
	}
}

func TestInitializeReconcilesAgainstMetaBearingMessage(t *testing.T) {
	session := freshSession(domain.StatusIntake, 60, domain.CollectedData{
		City: "Calgary", Province: "Alberta", Skills: "welding",
	})
	confirm := domain.Meta{
		Extracted:    session.Collected(),
		Progress:     60,
		NextQuestion: &domain.NextQuestion{Type: domain.QuestionConfirm, Prompt: "Confirm your details"},
		Signal:       domain.SignalContinue,
	}
	history := []any{
		assistantMessage(t, session.ID, "Please confirm the details below.", confirm),
		&domain.Message{
			ID:        uuid.New(),
			SessionID: session.ID,
			Role:      domain.RoleUser,
			Content:   "hold on",
			CreatedAt: time.Now().UTC(),
		},
		// Trailing assistant row without meta. Its question mark must not
		// bleed into reconciliation of the confirm snapshot above.
		&domain.Message{
			ID:        uuid.New(),
			SessionID: session.ID,
			Role:      domain.RoleAssistant,
			Content:   "Anything else I should know before you confirm?",
			CreatedAt: time.Now().UTC(),
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/sessions/"+session.ID.String() {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"session":      session,
			"messages":     history,
			"current_meta": confirm,
			"created":      false,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	id := session.ID
	if err := c.Initialize(context.Background(), InitializeOptions{SessionID: &id}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	state := c.State()
	if state.Meta.NextQuestion == nil {
		t.Fatal("confirm question should survive initialization")
	}
	if state.Meta.NextQuestion.Type != ftmeta.QuestionConfirm {
		t.Fatalf("confirm question was rewritten to %s", state.Meta.NextQuestion.Type)
	}
	if state.Meta.NextQuestion.Prompt != "Confirm your details" {
		t.Fatalf("confirm prompt changed to %q", state.Meta.NextQuestion.Prompt)
	}
}

func TestInitializeExplicitIDNotFoundCreatesFresh(t *testing.T) {
	missing := uuid.New()
	created := freshSession(domain.StatusIntake, 0, domain.CollectedData{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/"+missing.String():
			writeJSON(t, w, http.StatusNotFound, map[string]string{"error": "session not found"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions":
			writeJSON(t, w, http.StatusCreated, map[string]any{
				"session":  created,
				"messages": []*domain.Message{},
				"created":  true,
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	id := missing
	if err := c.Initialize(context.Background(), InitializeOptions{SessionID: &id}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	state := c.State()
	if state.Session.ID != created.ID {
		t.Fatalf("expected fallback to a fresh session, got %s", state.Session.ID)
	}
}

func initializedClient(t *testing.T, srvURL string, extra func(*Options)) *Client {
	t.Helper()
	c := newTestClient(t, srvURL, extra)
	if err := c.Initialize(context.Background(), InitializeOptions{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func chatServer(t *testing.T, turn http.HandlerFunc) *httptest.Server {
	t.Helper()
	session := freshSession(domain.StatusIntake, 20, domain.CollectedData{City: "Calgary", Province: "Alberta"})
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/current":
			writeJSON(t, w, http.StatusOK, map[string]any{
				"session":  session,
				"messages": []*domain.Message{},
				"created":  true,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/functions/ft_chat":
			turn(w, r)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func TestSendMessageProseOverrideForcesReadyToPay(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"text": "Your personalized ideas are being crafted now!",
			"ft_meta": domain.Meta{
				Extracted: domain.CollectedData{City: "Calgary", Province: "Alberta"},
				Progress:  80,
				Signal:    domain.SignalContinue,
			},
		})
	})
	defer srv.Close()

	c := initializedClient(t, srv.URL, nil)
	res, err := c.SendMessage(context.Background(), "yes, let's do it")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Meta.Signal != domain.SignalReadyToPay {
		t.Fatalf("prose override should force READY_TO_PAY, got %s", res.Meta.Signal)
	}
	if res.Meta.Progress != 100 {
		t.Fatalf("prose override should force progress 100, got %d", res.Meta.Progress)
	}
}

func TestSendMessageErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      map[string]string
		wantKind  ErrorKind
		wantMsg   string
		wantRetry bool
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     map[string]string{"error": "Too many messages. Please wait a moment before trying again."},
			wantKind: KindRateLimit,
			wantMsg:  "Too many messages. Please wait a moment before trying again.",
		},
		{
			name:     "quota exhausted",
			status:   http.StatusPaymentRequired,
			body:     map[string]string{"error": "You've used all your free messages. Upgrade to continue."},
			wantKind: KindQuota,
			wantMsg:  "You've used all your free messages. Upgrade to continue.",
		},
		{
			name:     "expired token",
			status:   http.StatusUnauthorized,
			body:     map[string]string{"error": "invalid access token"},
			wantKind: KindAuth,
			wantMsg:  "invalid access token",
		},
		{
			name:      "server fault",
			status:    http.StatusBadGateway,
			body:      map[string]string{"error": "upstream unavailable"},
			wantKind:  KindNetwork,
			wantRetry: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tc.status, tc.body)
			})
			defer srv.Close()

			c := initializedClient(t, srv.URL, nil)
			_, err := c.SendMessage(context.Background(), "hello")
			if err == nil {
				t.Fatal("expected an error")
			}
			state, ok := AsErrorState(err)
			if !ok {
				t.Fatalf("expected classified error, got %v", err)
			}
			if state.Kind != tc.wantKind {
				t.Fatalf("expected kind %s, got %s", tc.wantKind, state.Kind)
			}
			if tc.wantMsg != "" && state.Message != tc.wantMsg {
				t.Fatalf("expected server message %q, got %q", tc.wantMsg, state.Message)
			}
			if tc.wantRetry && state.Retry == nil {
				t.Fatal("expected a retry closure")
			}
			if !tc.wantRetry && state.Retry != nil {
				t.Fatalf("%s must not carry a retry closure", tc.wantKind)
			}
		})
	}
}

func TestSendMessageConnectionErrorIsRetryable(t *testing.T) {
	var turns int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&turns, 1)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"text":    "What skills do you bring?",
			"ft_meta": domain.Meta{Progress: 30, Signal: domain.SignalContinue},
		})
	})
	c := initializedClient(t, srv.URL, nil)

	// Kill the server so the next send fails at the transport level.
	srv.Close()

	_, err := c.SendMessage(context.Background(), "hello")
	state, ok := AsErrorState(err)
	if !ok || state.Kind != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if state.Retry == nil {
		t.Fatal("network errors must carry a retry closure")
	}
	if got := atomic.LoadInt32(&turns); got != 0 {
		t.Fatalf("no turn should have landed, got %d", got)
	}
}

func TestSendMessageOfflineQueuesWithoutPosting(t *testing.T) {
	var turns int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&turns, 1)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"text":    "noted",
			"ft_meta": domain.Meta{Progress: 30, Signal: domain.SignalContinue},
		})
	})
	defer srv.Close()

	monitor := NewManualMonitor(true)
	queue := newTestQueue(t)
	c := initializedClient(t, srv.URL, func(o *Options) {
		o.Monitor = monitor
		o.Queue = queue
	})

	monitor.SetOnline(false)
	res, err := c.SendMessage(context.Background(), "I know welding")
	if err != nil {
		t.Fatalf("SendMessage offline: %v", err)
	}
	if !res.Queued {
		t.Fatal("offline send should report queued")
	}
	if got := atomic.LoadInt32(&turns); got != 0 {
		t.Fatalf("offline send must not hit the server, got %d turns", got)
	}

	state := c.State()
	last := state.Messages[len(state.Messages)-1]
	if last.Role != domain.RoleUser || !last.Pending {
		t.Fatalf("queued message should render as pending, got %+v", last)
	}

	rows, err := queue.ListPending(state.Session.ID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(rows) != 1 || rows[0].Content != "I know welding" {
		t.Fatalf("expected durable pending row, got %+v", rows)
	}
}

func TestReplayDeliversQueuedExactlyOnce(t *testing.T) {
	var turns int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&turns, 1)
		var req struct {
			UserMessage string `json:"user_message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"text":    "got: " + req.UserMessage,
			"ft_meta": domain.Meta{Progress: 40, Signal: domain.SignalContinue},
		})
	})
	defer srv.Close()

	monitor := NewManualMonitor(true)
	queue := newTestQueue(t)
	c := initializedClient(t, srv.URL, func(o *Options) {
		o.Monitor = monitor
		o.Queue = queue
	})

	monitor.SetOnline(false)
	for _, content := range []string{"first while offline", "second while offline"} {
		if _, err := c.SendMessage(context.Background(), content); err != nil {
			t.Fatalf("offline SendMessage(%q): %v", content, err)
		}
	}

	monitor.SetOnline(true)

	deadline := time.Now().Add(3 * time.Second)
	for {
		rows, err := queue.ListPending(c.State().Session.ID)
		if err != nil {
			t.Fatalf("ListPending: %v", err)
		}
		if len(rows) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replay never drained the queue, %d left", len(rows))
		}
		time.Sleep(20 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&turns); got != 2 {
		t.Fatalf("expected each queued message delivered once, got %d turns", got)
	}

	state := c.State()
	for _, m := range state.Messages {
		if m.Pending {
			t.Fatalf("no message should stay pending after replay, got %+v", m)
		}
	}
}

func TestSendMessageTokenFailureIsAuthError(t *testing.T) {
	var turns int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&turns, 1)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"text":    "noted",
			"ft_meta": domain.Meta{Progress: 30, Signal: domain.SignalContinue},
		})
	})
	defer srv.Close()

	var broken int32
	c := initializedClient(t, srv.URL, func(o *Options) {
		o.AccessToken = ""
		o.TokenSource = func(ctx context.Context) (string, error) {
			if atomic.LoadInt32(&broken) == 1 {
				return "", errors.New("refresh rejected")
			}
			return "test-token", nil
		}
	})

	// The token source dies after initialization, as an expired refresh
	// token would.
	atomic.StoreInt32(&broken, 1)

	_, err := c.SendMessage(context.Background(), "hello")
	state, ok := AsErrorState(err)
	if !ok {
		t.Fatalf("expected classified error, got %v", err)
	}
	if state.Kind != KindAuth {
		t.Fatalf("a send without a usable token is an auth failure, got %s", state.Kind)
	}
	if state.Retry != nil {
		t.Fatal("auth errors must not carry a retry closure")
	}
	if got := atomic.LoadInt32(&turns); got != 0 {
		t.Fatalf("no turn should reach the server without a token, got %d", got)
	}
}

func TestExportedSurfaceUsesOnlyPublicTypes(t *testing.T) {
	roots := []reflect.Type{
		reflect.TypeOf(Options{}),
		reflect.TypeOf(InitializeOptions{}),
		reflect.TypeOf(Snapshot{}),
		reflect.TypeOf(Message{}),
		reflect.TypeOf(SendResult{}),
		reflect.TypeOf(Session{}),
		reflect.TypeOf(ErrorState{}),
		reflect.TypeOf(PendingMessage{}),
	}
	for _, root := range roots {
		for i := 0; i < root.NumField(); i++ {
			field := root.Field(i)
			typ := field.Type
			for typ.Kind() == reflect.Pointer || typ.Kind() == reflect.Slice {
				typ = typ.Elem()
			}
			if strings.Contains(typ.PkgPath(), "/internal/") {
				t.Errorf("%s.%s has type from %s, which importers outside this module cannot name",
					root.Name(), field.Name, typ.PkgPath())
			}
		}
	}
}
