package repos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
)

type SessionRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Session) ([]*domain.Session, error)
	GetByIDAndUser(dbc dbctx.Context, id, userID uuid.UUID) (*domain.Session, error)
	GetLatestByUserAndStatuses(dbc dbctx.Context, userID uuid.UUID, statuses []string) (*domain.Session, error)
	// UpdateFields patches named columns only; callers never rewrite whole
	// rows, so concurrent corrective writes cannot clobber collected_data.
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ListStaleIntake(dbc dbctx.Context, cutoff time.Time, limit int) ([]*domain.Session, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, log *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: log.With("repo", "SessionRepo")}
}

func (r *sessionRepo) Create(dbc dbctx.Context, rows []*domain.Session) ([]*domain.Session, error) {
	if len(rows) == 0 {
		return []*domain.Session{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *sessionRepo) GetByIDAndUser(dbc dbctx.Context, id, userID uuid.UUID) (*domain.Session, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id or user_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out domain.Session
	err := txx.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sessionRepo) GetLatestByUserAndStatuses(dbc dbctx.Context, userID uuid.UUID, statuses []string) (*domain.Session, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out domain.Session
	err := txx.WithContext(dbc.Ctx).
		Where("user_id = ? AND status IN ?", userID, statuses).
		Order("updated_at DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *sessionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing session_id")
	}
	if len(updates) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *sessionRepo) ListStaleIntake(dbc dbctx.Context, cutoff time.Time, limit int) ([]*domain.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*domain.Session
	if err := txx.WithContext(dbc.Ctx).
		Where("status = ? AND updated_at < ?", domain.StatusIntake, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
