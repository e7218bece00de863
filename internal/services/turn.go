package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/truenorthhq/truenorth-backend/internal/clients/gateway"
	redisclient "github.com/truenorthhq/truenorth-backend/internal/clients/redis"
	"github.com/truenorthhq/truenorth-backend/internal/data/repos"
	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/internal/intake"
	"github.com/truenorthhq/truenorth-backend/internal/observability"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
	"github.com/truenorthhq/truenorth-backend/internal/requestdata"
)

var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrCreditsExhausted = errors.New("credits exhausted")
	ErrSessionNotFound  = errors.New("session not found")
)

// TurnReply is the wire reply body of one chat turn.
type TurnReply struct {
	Text string      `json:"text"`
	Meta domain.Meta `json:"ft_meta"`
}

type TurnService interface {
	// Send runs one intake turn: persist the user message, ask the gateway
	// for the structured reply, fold the extraction into collected_data,
	// persist the assistant message, and advance the funnel. Session
	// mutations are serialized in one transaction per turn.
	Send(dbc dbctx.Context, sessionID uuid.UUID, userMessage string) (*TurnReply, error)
}

type turnService struct {
	db         *gorm.DB
	log        *logger.Logger
	sessions   repos.SessionRepo
	messages   repos.MessageRepo
	users      repos.UserRepo
	gw         gateway.Client
	limiter    redisclient.RateLimiter
	classifier intake.Classifier
	metrics    *observability.Metrics
}

func NewTurnService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	messageRepo repos.MessageRepo,
	userRepo repos.UserRepo,
	gw gateway.Client,
	limiter redisclient.RateLimiter,
	classifier intake.Classifier,
	metrics *observability.Metrics,
) TurnService {
	return &turnService{
		db:         db,
		log:        baseLog.With("service", "TurnService"),
		sessions:   sessionRepo,
		messages:   messageRepo,
		users:      userRepo,
		gw:         gw,
		limiter:    limiter,
		classifier: classifier,
		metrics:    metrics,
	}
}

func (s *turnService) Send(dbc dbctx.Context, sessionID uuid.UUID, userMessage string) (*TurnReply, error) {
	rd := requestdata.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return nil, fmt.Errorf("empty message")
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(dbc.Ctx, rd.UserID.String())
		if err != nil {
			s.log.Warn("rate limiter unavailable, allowing turn", "error", err)
		} else if !allowed {
			s.metrics.ChatTurn("rate_limited")
			return nil, ErrRateLimited
		}
	}

	usr, err := s.users.GetByID(dbc, rd.UserID)
	if err != nil {
		return nil, err
	}
	if usr == nil {
		return nil, fmt.Errorf("user not found")
	}
	if usr.CreditsRemaining <= 0 {
		s.metrics.ChatTurn("credits_exhausted")
		return nil, ErrCreditsExhausted
	}

	session, err := s.sessions.GetByIDAndUser(dbc, sessionID, rd.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	now := time.Now().UTC()
	userRow := &domain.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   userMessage,
		CreatedAt: now,
	}
	if _, err := s.messages.Create(dbc, []*domain.Message{userRow}); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	history, err := s.messages.ListRecent(dbc, session.ID, 12)
	if err != nil {
		s.log.Warn("history load failed, continuing with bare turn", "error", err)
	}

	reply, err := s.complete(dbc, session, history, userMessage)
	if err != nil {
		s.metrics.ChatTurn("gateway_error")
		return nil, err
	}

	// Drift instrumentation only. The client owns the prose override; the
	// persisted signal stays exactly what the gateway declared, so a later
	// load reconciles it against collected_data like any other cache.
	if s.classifier != nil {
		_, fired := s.classifier.Classify(reply.Text)
		s.metrics.ClassifierDecision(fired)
		if fired && reply.Meta.Signal != domain.SignalReadyToPay {
			s.log.Info("generation announced in prose without READY_TO_PAY signal",
				"session_id", session.ID.String(), "signal", reply.Meta.Signal)
		}
	}

	merged := session.Collected().Merge(reply.Meta.Extracted)
	progress := reply.Meta.Progress
	if progress < session.Progress {
		progress = session.Progress
	}
	if progress > 100 {
		progress = 100
	}

	status := session.Status
	if reply.Meta.Signal == domain.SignalReadyToPay && merged.UserConfirmed && status == domain.StatusIntake {
		status = domain.StatusReadyToPay
	}

	reply.Meta.Extracted = merged
	reply.Meta.Progress = progress

	assistantRow := &domain.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      domain.RoleAssistant,
		Content:   reply.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := assistantRow.SetMeta(reply.Meta); err != nil {
		return nil, err
	}

	collectedRaw, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}

	txErr := s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		if _, err := s.messages.Create(inner, []*domain.Message{assistantRow}); err != nil {
			return err
		}
		if err := s.sessions.UpdateFields(inner, session.ID, map[string]interface{}{
			"status":         status,
			"progress":       progress,
			"collected_data": collectedRaw,
			"updated_at":     time.Now().UTC(),
		}); err != nil {
			return err
		}
		spent, err := s.users.SpendCredit(inner, rd.UserID)
		if err != nil {
			return err
		}
		if !spent {
			return ErrCreditsExhausted
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrCreditsExhausted) {
			s.metrics.ChatTurn("credits_exhausted")
			return nil, ErrCreditsExhausted
		}
		return nil, fmt.Errorf("turn commit failed: %w", txErr)
	}

	s.metrics.ChatTurn("ok")
	return reply, nil
}

const turnSystemPrompt = `You are TrueNorth, a business-idea intake assistant for aspiring Canadian entrepreneurs.
Collect, one question at a time: city and province, skills and background, budget range, weekly time commitment, monthly income goal, constraints, and preferred industries.
When every field is filled, summarize what you learned and ask the user to confirm. Only after the user explicitly confirms, set extracted.user_confirmed to true and signal READY_TO_PAY.
Otherwise signal CONTINUE. Keep replies short and warm. Always fill next_question so the client knows what input to render.`

var turnReplySchema = map[string]any{
	"type":     "object",
	"required": []string{"text", "ft_meta"},
	"properties": map[string]any{
		"text": map[string]any{"type": "string"},
		"ft_meta": map[string]any{
			"type":     "object",
			"required": []string{"extracted", "progress", "signal"},
			"properties": map[string]any{
				"extracted": map[string]any{"type": "object"},
				"progress":  map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
				"next_question": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":    map[string]any{"type": "string", "enum": []string{"text", "select", "confirm"}},
						"prompt":  map[string]any{"type": "string"},
						"options": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
				"signal": map[string]any{"type": "string"},
			},
		},
	},
}

func (s *turnService) complete(dbc dbctx.Context, session *domain.Session, history []*domain.Message, userMessage string) (*TurnReply, error) {
	collectedRaw, _ := json.Marshal(session.Collected())

	var b strings.Builder
	fmt.Fprintf(&b, "Known profile so far (authoritative): %s\n", string(collectedRaw))
	fmt.Fprintf(&b, "Session progress: %d\n\nRecent conversation:\n", session.Progress)
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "user: %s\n", userMessage)

	raw, err := s.gw.GenerateJSON(dbc.Ctx, turnSystemPrompt, b.String(), "intake_turn", turnReplySchema)
	if err != nil {
		return nil, fmt.Errorf("gateway turn failed: %w", err)
	}

	var reply TurnReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("gateway turn decode failed: %w", err)
	}
	if strings.TrimSpace(reply.Text) == "" {
		return nil, fmt.Errorf("gateway turn produced empty text")
	}
	if reply.Meta.Signal == "" {
		reply.Meta.Signal = domain.SignalContinue
	}
	return &reply, nil
}
