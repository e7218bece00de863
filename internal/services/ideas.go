package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/truenorthhq/truenorth-backend/internal/clients/gateway"
	"github.com/truenorthhq/truenorth-backend/internal/clients/perplexity"
	"github.com/truenorthhq/truenorth-backend/internal/data/repos"
	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/internal/observability"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
)

// Idea is one generated business idea in a report.
type Idea struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	WhyItFits       string `json:"why_it_fits"`
	StartupCost     string `json:"startup_cost"`
	FirstThreeSteps string `json:"first_three_steps"`
	LocalAngle      string `json:"local_angle"`
}

type IdeasService interface {
	// Generate researches the session's collected profile, synthesizes the
	// idea report, and moves the session paid -> generating -> ideas_generated.
	// On failure the session is rolled back to paid so the run can be retried.
	Generate(dbc dbctx.Context, sessionID, userID uuid.UUID) (*domain.IdeaReport, error)
}

type ideasService struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.SessionRepo
	reports  repos.IdeaReportRepo
	gw       gateway.Client
	research perplexity.Client
	metrics  *observability.Metrics
}

func NewIdeasService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	reportRepo repos.IdeaReportRepo,
	gw gateway.Client,
	research perplexity.Client,
	metrics *observability.Metrics,
) IdeasService {
	return &ideasService{
		db:       db,
		log:      baseLog.With("service", "IdeasService"),
		sessions: sessionRepo,
		reports:  reportRepo,
		gw:       gw,
		research: research,
		metrics:  metrics,
	}
}

func (s *ideasService) Generate(dbc dbctx.Context, sessionID, userID uuid.UUID) (*domain.IdeaReport, error) {
	session, err := s.sessions.GetByIDAndUser(dbc, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status == domain.StatusIdeasGenerated || session.Status == domain.StatusCompleted {
		if existing, err := s.reports.GetBySessionID(dbc, sessionID); err == nil && existing != nil {
			return existing, nil
		}
	}
	if session.Status != domain.StatusPaid {
		return nil, fmt.Errorf("session %s is %s, expected %s", sessionID, session.Status, domain.StatusPaid)
	}

	if err := s.sessions.UpdateFields(dbc, sessionID, map[string]interface{}{
		"status":     domain.StatusGenerating,
		"updated_at": time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	report, genErr := s.run(dbc, session)
	if genErr != nil {
		s.metrics.IdeaRun("error")
		if rbErr := s.sessions.UpdateFields(dbc, sessionID, map[string]interface{}{
			"status":     domain.StatusPaid,
			"updated_at": time.Now().UTC(),
		}); rbErr != nil {
			s.log.Error("failed to roll session back to paid", "session_id", sessionID.String(), "error", rbErr)
		}
		return nil, genErr
	}

	s.metrics.IdeaRun("ok")
	return report, nil
}

func (s *ideasService) run(dbc dbctx.Context, session *domain.Session) (*domain.IdeaReport, error) {
	collected := session.Collected()
	queries := researchQueries(collected)

	results := make([]perplexity.SearchResult, len(queries))
	var mu sync.Mutex
	var citations []string

	if s.research != nil {
		g, gctx := errgroup.WithContext(dbc.Ctx)
		g.SetLimit(3)
		for i, q := range queries {
			i, q := i, q
			g.Go(func() error {
				res, err := s.research.Search(gctx, q)
				if err != nil {
					// Research is best-effort; the synthesis prompt tolerates
					// missing sections.
					s.log.Warn("research query failed", "query", q, "error", err)
					return nil
				}
				results[i] = res
				mu.Lock()
				citations = append(citations, res.Citations...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	ideas, err := s.synthesize(dbc, collected, results)
	if err != nil {
		return nil, err
	}

	ideasRaw, err := json.Marshal(ideas)
	if err != nil {
		return nil, err
	}
	citationsRaw, err := json.Marshal(dedupe(citations))
	if err != nil {
		return nil, err
	}

	report := &domain.IdeaReport{
		ID:        uuid.New(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Ideas:     ideasRaw,
		Citations: citationsRaw,
		CreatedAt: time.Now().UTC(),
	}

	txErr := s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		if _, err := s.reports.Create(inner, []*domain.IdeaReport{report}); err != nil {
			return err
		}
		return s.sessions.UpdateFields(inner, session.ID, map[string]interface{}{
			"status":     domain.StatusIdeasGenerated,
			"progress":   100,
			"updated_at": time.Now().UTC(),
		})
	})
	if txErr != nil {
		return nil, fmt.Errorf("failed to store idea report: %w", txErr)
	}
	return report, nil
}

func researchQueries(c domain.CollectedData) []string {
	place := strings.TrimSpace(strings.Join(nonEmpty(c.City, c.Province), ", "))
	if place == "" {
		place = "Canada"
	}
	queries := []string{
		fmt.Sprintf("Small business market trends and gaps in %s in 2026", place),
		fmt.Sprintf("Typical startup costs and licensing requirements for small businesses in %s", place),
		fmt.Sprintf("Local demand and competition for services in %s", place),
	}
	if len(c.PreferredIndustries) > 0 {
		queries = append(queries, fmt.Sprintf("Opportunities in %s for %s", place, strings.Join(c.PreferredIndustries, " and ")))
	}
	return queries
}

const synthSystemPrompt = `You are TrueNorth, generating personalized Canadian business ideas.
Using the user's profile and the research notes, produce exactly 5 ideas matched to their city, skills, budget, time commitment, and income goal.
Each idea needs a title, a summary, why it fits this person, a realistic startup cost, the first three concrete steps, and a local angle tied to their city or province.`

var ideasSchema = map[string]any{
	"type":     "object",
	"required": []string{"ideas"},
	"properties": map[string]any{
		"ideas": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"title", "summary", "why_it_fits", "startup_cost", "first_three_steps", "local_angle"},
				"properties": map[string]any{
					"title":             map[string]any{"type": "string"},
					"summary":           map[string]any{"type": "string"},
					"why_it_fits":       map[string]any{"type": "string"},
					"startup_cost":      map[string]any{"type": "string"},
					"first_three_steps": map[string]any{"type": "string"},
					"local_angle":       map[string]any{"type": "string"},
				},
			},
		},
	},
}

func (s *ideasService) synthesize(dbc dbctx.Context, collected domain.CollectedData, research []perplexity.SearchResult) ([]Idea, error) {
	profileRaw, _ := json.Marshal(collected)

	var b strings.Builder
	fmt.Fprintf(&b, "User profile: %s\n\nResearch notes:\n", string(profileRaw))
	for _, r := range research {
		if r.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", r.Query, r.Text)
	}

	raw, err := s.gw.GenerateJSON(dbc.Ctx, synthSystemPrompt, b.String(), "idea_report", ideasSchema)
	if err != nil {
		return nil, fmt.Errorf("idea synthesis failed: %w", err)
	}

	var out struct {
		Ideas []Idea `json:"ideas"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("idea synthesis decode failed: %w", err)
	}
	if len(out.Ideas) == 0 {
		return nil, fmt.Errorf("idea synthesis produced no ideas")
	}
	return out.Ideas, nil
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
