package services

import (
	"time"

	"github.com/truenorthhq/truenorth-backend/internal/data/repos"
	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/internal/observability"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/envutil"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
)

type AbandonService interface {
	// Sweep marks intake sessions with no activity past the idle window as
	// abandoned_notified. Returns how many sessions were flagged.
	Sweep(dbc dbctx.Context) (int, error)
}

type abandonService struct {
	log      *logger.Logger
	sessions repos.SessionRepo
	metrics  *observability.Metrics
	idleFor  time.Duration
	batch    int
}

func NewAbandonService(baseLog *logger.Logger, sessionRepo repos.SessionRepo, metrics *observability.Metrics) AbandonService {
	return &abandonService{
		log:      baseLog.With("service", "AbandonService"),
		sessions: sessionRepo,
		metrics:  metrics,
		idleFor:  envutil.Seconds("ABANDON_IDLE_SECONDS", 48*time.Hour),
		batch:    envutil.Int("ABANDON_BATCH_SIZE", 200),
	}
}

func (s *abandonService) Sweep(dbc dbctx.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.idleFor)
	stale, err := s.sessions.ListStaleIntake(dbc, cutoff, s.batch)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, session := range stale {
		if err := s.sessions.UpdateFields(dbc, session.ID, map[string]interface{}{
			"status": domain.StatusAbandonedNotified,
		}); err != nil {
			s.log.Warn("failed to flag abandoned session", "session_id", session.ID.String(), "error", err)
			continue
		}
		flagged++
	}

	if flagged > 0 {
		s.metrics.SessionsAbandoned(flagged)
		s.log.Info("abandonment sweep complete", "flagged", flagged, "cutoff", cutoff.Format(time.RFC3339))
	}
	return flagged, nil
}
