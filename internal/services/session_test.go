package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/truenorthhq/truenorth-backend/internal/data/repos"
	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	userdomain "github.com/truenorthhq/truenorth-backend/internal/domain/user"
	"github.com/truenorthhq/truenorth-backend/internal/observability"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
	"github.com/truenorthhq/truenorth-backend/internal/requestdata"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = gdb.AutoMigrate(&userdomain.User{}, &userdomain.Token{}, &domain.Session{}, &domain.Message{}, &domain.IdeaReport{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newSessionService(t *testing.T, gdb *gorm.DB) SessionService {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	sessionRepo := repos.NewSessionRepo(gdb, log)
	messageRepo := repos.NewMessageRepo(gdb, log)
	return NewSessionService(gdb, log, sessionRepo, messageRepo, observability.NewMetrics())
}

func authedCtx(userID uuid.UUID) dbctx.Context {
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
	return dbctx.Context{Ctx: ctx}
}

func seedSession(t *testing.T, gdb *gorm.DB, userID uuid.UUID, status string, updatedAt time.Time) *domain.Session {
	t.Helper()
	row := &domain.Session{
		ID:            uuid.New(),
		UserID:        userID,
		Status:        status,
		Progress:      20,
		CollectedData: []byte(`{}`),
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
	}
	if err := gdb.Create(row).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	// gorm stamps UpdatedAt on create; force the seeded value back.
	if err := gdb.Model(&domain.Session{}).Where("id = ?", row.ID).Update("updated_at", updatedAt).Error; err != nil {
		t.Fatalf("restamp session: %v", err)
	}
	return row
}

func TestResolveCreatesWhenNoResumable(t *testing.T) {
	gdb := newTestDB(t)
	svc := newSessionService(t, gdb)
	userID := uuid.New()

	res, err := svc.Resolve(authedCtx(userID), ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Created {
		t.Fatal("expected a fresh session")
	}
	if res.Session.Status != domain.StatusIntake || res.Session.Progress != 0 {
		t.Fatalf("fresh session should start at intake/0, got %s/%d", res.Session.Status, res.Session.Progress)
	}
	if len(res.Messages) != 0 {
		t.Fatalf("fresh session must have no persisted messages, got %d", len(res.Messages))
	}
}

func TestResolvePicksMostRecentResumable(t *testing.T) {
	gdb := newTestDB(t)
	svc := newSessionService(t, gdb)
	userID := uuid.New()

	old := seedSession(t, gdb, userID, domain.StatusIntake, time.Now().Add(-2*time.Hour))
	seedSession(t, gdb, userID, domain.StatusCompleted, time.Now().Add(-30*time.Minute))
	recent := seedSession(t, gdb, userID, domain.StatusReadyToPay, time.Now().Add(-1*time.Hour))

	res, err := svc.Resolve(authedCtx(userID), ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Created {
		t.Fatal("should resume, not create")
	}
	if res.Session.ID != recent.ID {
		t.Fatalf("expected most recently updated resumable session %s, got %s (old=%s)", recent.ID, res.Session.ID, old.ID)
	}
}

func TestResolveForceNewSkipsResumable(t *testing.T) {
	gdb := newTestDB(t)
	svc := newSessionService(t, gdb)
	userID := uuid.New()
	existing := seedSession(t, gdb, userID, domain.StatusIntake, time.Now())

	res, err := svc.Resolve(authedCtx(userID), ResolveOptions{ForceNew: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Created || res.Session.ID == existing.ID {
		t.Fatalf("ForceNew must create a distinct session, got created=%v id=%s", res.Created, res.Session.ID)
	}
}

func TestResolveExplicitMissingIDCreatesFresh(t *testing.T) {
	gdb := newTestDB(t)
	svc := newSessionService(t, gdb)
	userID := uuid.New()
	missing := uuid.New()

	res, err := svc.Resolve(authedCtx(userID), ResolveOptions{SessionID: &missing})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Created {
		t.Fatal("missing explicit id should degrade to a fresh session")
	}
}

func TestResolveIgnoresOtherUsersSessions(t *testing.T) {
	gdb := newTestDB(t)
	svc := newSessionService(t, gdb)
	owner := uuid.New()
	intruder := uuid.New()
	theirs := seedSession(t, gdb, owner, domain.StatusIntake, time.Now())

	res, err := svc.Resolve(authedCtx(intruder), ResolveOptions{SessionID: &theirs.ID})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Created || res.Session.ID == theirs.ID {
		t.Fatal("a foreign session id must never resolve to that session")
	}
}

func TestResolveDowngradesStaleReadyToPay(t *testing.T) {
	gdb := newTestDB(t)
	svc := newSessionService(t, gdb)
	userID := uuid.New()
	session := seedSession(t, gdb, userID, domain.StatusReadyToPay, time.Now())

	stale := domain.Meta{
		Extracted: domain.CollectedData{City: "Calgary", Province: "Alberta", UserConfirmed: false},
		Progress:  90,
		Signal:    domain.SignalReadyToPay,
	}
	msg := &domain.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      domain.RoleAssistant,
		Content:   "Ready to see your ideas?",
		CreatedAt: time.Now(),
	}
	if err := msg.SetMeta(stale); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := gdb.Create(msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}

	res, err := svc.Get(authedCtx(userID), session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.CurrentMeta == nil || res.CurrentMeta.Signal != domain.SignalContinue {
		t.Fatalf("unconfirmed READY_TO_PAY must downgrade on load, got %+v", res.CurrentMeta)
	}
	if res.Session.Status != domain.StatusIntake {
		t.Fatalf("session status should reset to intake, got %s", res.Session.Status)
	}

	var persisted domain.Session
	if err := gdb.First(&persisted, "id = ?", session.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if persisted.Status != domain.StatusIntake {
		t.Fatalf("corrective write should persist intake, got %s", persisted.Status)
	}
}

func TestPatchStatusRejectsUnknown(t *testing.T) {
	gdb := newTestDB(t)
	svc := newSessionService(t, gdb)
	userID := uuid.New()
	session := seedSession(t, gdb, userID, domain.StatusIntake, time.Now())

	if err := svc.PatchStatus(authedCtx(userID), session.ID, "definitely_not_a_status"); err == nil {
		t.Fatal("unknown status must be rejected")
	}
	if err := svc.PatchStatus(authedCtx(userID), session.ID, domain.StatusPaid); err != nil {
		t.Fatalf("valid status rejected: %v", err)
	}
}
