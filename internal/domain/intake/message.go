package intake

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of the intake conversation. Messages are append-only
// and ordered by created_at; they are never edited. Only assistant messages
// carry meta.
type Message struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Role      string         `gorm:"type:text;not null" json:"role"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	Meta      datatypes.JSON `gorm:"type:jsonb" json:"meta,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (Message) TableName() string { return "intake_messages" }

// DecodedMeta returns the message's meta snapshot, or nil for messages
// without one (user/system rows, or pre-meta assistant rows).
func (m *Message) DecodedMeta() *Meta {
	if len(m.Meta) == 0 {
		return nil
	}
	var meta Meta
	if err := json.Unmarshal(m.Meta, &meta); err != nil {
		return nil
	}
	return &meta
}

func (m *Message) SetMeta(meta Meta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	m.Meta = datatypes.JSON(raw)
	return nil
}
