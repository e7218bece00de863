package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/truenorthhq/truenorth-backend/internal/data/repos"
	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/internal/intake"
	"github.com/truenorthhq/truenorth-backend/internal/observability"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
	"github.com/truenorthhq/truenorth-backend/internal/requestdata"
)

// ResolveOptions mirrors the client's resolution inputs: an explicit session
// to resume, or a demand for a fresh one.
type ResolveOptions struct {
	SessionID *uuid.UUID
	ForceNew  bool
}

// Resolved is one resolved session: its history and the reconciled current
// metadata. CurrentMeta is nil when the session has no assistant meta yet;
// the client shows the deterministic welcome in that case.
type Resolved struct {
	Session     *domain.Session
	Messages    []*domain.Message
	CurrentMeta *domain.Meta
	Created     bool
}

type SessionService interface {
	// Resolve picks exactly one active session for the caller: explicit id
	// first (degrading to create when missing), then force-new, then the
	// most recently updated resumable session, then create.
	Resolve(dbc dbctx.Context, opts ResolveOptions) (*Resolved, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*Resolved, error)
	ListMessages(dbc dbctx.Context, sessionID uuid.UUID) ([]*domain.Message, error)
	// PatchStatus patches only the status column. Used by the client's
	// corrective write; it must never touch collected_data.
	PatchStatus(dbc dbctx.Context, sessionID uuid.UUID, status string) error
}

type sessionService struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.SessionRepo
	messages repos.MessageRepo
	metrics  *observability.Metrics
}

func NewSessionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	messageRepo repos.MessageRepo,
	metrics *observability.Metrics,
) SessionService {
	return &sessionService{
		db:       db,
		log:      baseLog.With("service", "SessionService"),
		sessions: sessionRepo,
		messages: messageRepo,
		metrics:  metrics,
	}
}

var validStatuses = map[string]bool{
	domain.StatusIntake:            true,
	domain.StatusReadyToPay:        true,
	domain.StatusPaid:              true,
	domain.StatusGenerating:        true,
	domain.StatusIdeasGenerated:    true,
	domain.StatusCompleted:         true,
	domain.StatusAbandonedNotified: true,
}

func (s *sessionService) Resolve(dbc dbctx.Context, opts ResolveOptions) (*Resolved, error) {
	rd := requestdata.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}

	var target *domain.Session

	if opts.SessionID != nil && *opts.SessionID != uuid.Nil && !opts.ForceNew {
		found, err := s.sessions.GetByIDAndUser(dbc, *opts.SessionID, rd.UserID)
		if err != nil {
			// degrade gracefully: an explicit id that cannot be fetched
			// must not sink the whole initialization
			s.log.Warn("explicit session fetch failed", "session_id", opts.SessionID.String(), "error", err)
		}
		target = found
		if target == nil {
			return s.createSession(dbc, rd.UserID)
		}
	} else if opts.ForceNew {
		return s.createSession(dbc, rd.UserID)
	} else {
		found, err := s.sessions.GetLatestByUserAndStatuses(dbc, rd.UserID, domain.ResumableStatuses)
		if err != nil {
			s.log.Warn("latest session lookup failed", "error", err)
		}
		target = found
		if target == nil {
			return s.createSession(dbc, rd.UserID)
		}
	}

	return s.load(dbc, target)
}

func (s *sessionService) Get(dbc dbctx.Context, id uuid.UUID) (*Resolved, error) {
	rd := requestdata.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	found, err := s.sessions.GetByIDAndUser(dbc, id, rd.UserID)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrSessionNotFound
	}
	return s.load(dbc, found)
}

func (s *sessionService) ListMessages(dbc dbctx.Context, sessionID uuid.UUID) ([]*domain.Message, error) {
	rd := requestdata.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, fmt.Errorf("not authenticated")
	}
	found, err := s.sessions.GetByIDAndUser(dbc, sessionID, rd.UserID)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrSessionNotFound
	}
	return s.messages.ListBySession(dbc, sessionID, 0)
}

func (s *sessionService) PatchStatus(dbc dbctx.Context, sessionID uuid.UUID, status string) error {
	rd := requestdata.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return fmt.Errorf("not authenticated")
	}
	if !validStatuses[status] {
		return fmt.Errorf("invalid status %q", status)
	}
	found, err := s.sessions.GetByIDAndUser(dbc, sessionID, rd.UserID)
	if err != nil {
		return err
	}
	if found == nil {
		return ErrSessionNotFound
	}
	return s.sessions.UpdateFields(dbc, sessionID, map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	})
}

func (s *sessionService) createSession(dbc dbctx.Context, userID uuid.UUID) (*Resolved, error) {
	now := time.Now().UTC()
	row := &domain.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    domain.StatusIntake,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_ = row.SetCollected(domain.CollectedData{})

	created, err := s.sessions.Create(dbc, []*domain.Session{row})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if len(created) == 0 || created[0] == nil {
		return nil, fmt.Errorf("failed to create session")
	}
	s.metrics.SessionCreated()
	// the greeting is generated client-side; a fresh session has zero
	// persisted messages and never a synthetic user message
	return &Resolved{Session: created[0], Messages: []*domain.Message{}, Created: true}, nil
}

// load pulls the history and reconciles the newest assistant meta against
// the session row. This runs on every load path, not just the first one:
// stored meta can be stale relative to collected_data.
func (s *sessionService) load(dbc dbctx.Context, session *domain.Session) (*Resolved, error) {
	rows, err := s.messages.ListBySession(dbc, session.ID, 0)
	if err != nil {
		return nil, err
	}
	s.metrics.SessionResumed()

	out := &Resolved{Session: session, Messages: rows}

	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Role != domain.RoleAssistant {
			continue
		}
		meta := rows[i].DecodedMeta()
		if meta == nil {
			continue
		}
		effective, corrections := intake.Reconcile(*meta, rows[i].Content, session.Collected(), session.Status)
		if effective.Signal != meta.Signal {
			s.metrics.ReconcileFix("stale_ready_to_pay")
			s.log.Info("stale READY_TO_PAY downgraded on load", "session_id", session.ID.String())
		}
		if meta.NextQuestion != nil && meta.NextQuestion.Type == domain.QuestionConfirm &&
			effective.NextQuestion != nil && effective.NextQuestion.Type == domain.QuestionText {
			s.metrics.ReconcileFix("confirm_under_question")
		}
		s.dispatchCorrections(dbc, session, corrections)
		out.CurrentMeta = &effective
		break
	}

	return out, nil
}

// dispatchCorrections runs the reconciler's side-effect commands. Failures
// are logged, never fatal: the downgrade already happened in memory and the
// next load will retry the row patch.
func (s *sessionService) dispatchCorrections(dbc dbctx.Context, session *domain.Session, corrections []intake.Correction) {
	for _, c := range corrections {
		switch c.Kind {
		case intake.CorrectionResetStatus:
			err := s.sessions.UpdateFields(dbc, session.ID, map[string]interface{}{
				"status":     c.Status,
				"updated_at": time.Now().UTC(),
			})
			if err != nil {
				s.log.Warn("status correction failed", "session_id", session.ID.String(), "error", err)
				continue
			}
			session.Status = c.Status
		default:
			s.log.Warn("unknown correction kind", "kind", string(c.Kind))
		}
	}
}
