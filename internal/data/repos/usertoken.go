package repos

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	userdomain "github.com/truenorthhq/truenorth-backend/internal/domain/user"
	"github.com/truenorthhq/truenorth-backend/internal/platform/dbctx"
	"github.com/truenorthhq/truenorth-backend/internal/platform/logger"
)

type UserTokenRepo interface {
	Create(dbc dbctx.Context, rows []*userdomain.Token) ([]*userdomain.Token, error)
	GetByRefreshToken(dbc dbctx.Context, refreshToken string) (*userdomain.Token, error)
	DeleteByUserID(dbc dbctx.Context, userID uuid.UUID) error
	DeleteExpired(dbc dbctx.Context) error
}

type userTokenRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserTokenRepo(db *gorm.DB, log *logger.Logger) UserTokenRepo {
	return &userTokenRepo{db: db, log: log.With("repo", "UserTokenRepo")}
}

func (r *userTokenRepo) Create(dbc dbctx.Context, rows []*userdomain.Token) ([]*userdomain.Token, error) {
	if len(rows) == 0 {
		return []*userdomain.Token{}, nil
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

func (r *userTokenRepo) GetByRefreshToken(dbc dbctx.Context, refreshToken string) (*userdomain.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("missing refresh_token")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out userdomain.Token
	err := txx.WithContext(dbc.Ctx).Where("refresh_token = ?", refreshToken).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userTokenRepo) DeleteByUserID(dbc dbctx.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("missing user_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Delete(&userdomain.Token{}).Error
}

func (r *userTokenRepo) DeleteExpired(dbc dbctx.Context) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("expires_at < now()").
		Delete(&userdomain.Token{}).Error
}
