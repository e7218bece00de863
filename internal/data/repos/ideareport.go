package repos

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
)

type IdeaReportRepo interface {
	Create(dbc dbctx.Context, rows []*domain.IdeaReport) ([]*domain.IdeaReport, error)
	GetBySessionID(dbc dbctx.Context, sessionID uuid.UUID) (*domain.IdeaReport, error)
}

type ideaReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdeaReportRepo(db *gorm.DB, log *logger.Logger) IdeaReportRepo {
	return &ideaReportRepo{db: db, log: log.With("repo", "IdeaReportRepo")}
}

func (r *ideaReportRepo) Create(dbc dbctx.Context, rows []*domain.IdeaReport) ([]*domain.IdeaReport, error) {
	if len(rows) == 0 {
		return []*domain.IdeaReport{}, nil
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

func (r *ideaReportRepo) GetBySessionID(dbc dbctx.Context, sessionID uuid.UUID) (*domain.IdeaReport, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out domain.IdeaReport
	err := txx.WithContext(dbc.Ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
