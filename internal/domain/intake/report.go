package intake

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IdeaReport is the generated business-idea report for a paid session.
type IdeaReport struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Ideas     datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"ideas"`
	Citations datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"citations"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (IdeaReport) TableName() string { return "idea_reports" }
