package intake

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Session statuses, in rough funnel order. Sessions are never hard-deleted;
// stale intakes are flagged abandoned_notified by the sweeper.
const (
	StatusIntake            = "intake"
	StatusReadyToPay        = "ready_to_pay"
	StatusPaid              = "paid"
	StatusGenerating        = "generating"
	StatusIdeasGenerated    = "ideas_generated"
	StatusCompleted         = "completed"
	StatusAbandonedNotified = "abandoned_notified"
)

// ResumableStatuses are the statuses the initializer may resume into.
var ResumableStatuses = []string{StatusIntake, StatusReadyToPay}

// Session is one conversational intake attempt. CollectedData is the single
// source of truth for what has been learned about the user; per-message meta
// is a cache of a subset of it and may be stale.
type Session struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Status        string         `gorm:"type:text;not null;default:'intake';index" json:"status"`
	Progress      int            `gorm:"not null;default:0" json:"progress"`
	CollectedData datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"collected_data"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Session) TableName() string { return "intake_sessions" }

// Collected decodes the authoritative profile. A corrupt column is treated
// as empty rather than fatal; the conversation can always re-extract.
func (s *Session) Collected() CollectedData {
	var cd CollectedData
	if len(s.CollectedData) > 0 {
		_ = json.Unmarshal(s.CollectedData, &cd)
	}
	return cd
}

func (s *Session) SetCollected(cd CollectedData) error {
	raw, err := json.Marshal(cd)
	if err != nil {
		return err
	}
	s.CollectedData = datatypes.JSON(raw)
	return nil
}

