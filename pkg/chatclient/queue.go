package chatclient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// PendingMessage is one user message captured while offline, waiting for
// connectivity to come back.
type PendingMessage struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:text;not null;index" json:"session_id"`
	Content   string    `gorm:"not null" json:"content"`
	QueuedAt  time.Time `gorm:"not null;index" json:"queued_at"`
}

func (PendingMessage) TableName() string { return "pending_messages" }

// OfflineQueue is a durable local store for messages composed while offline.
// Entries survive process restarts and replay strictly in queue order.
type OfflineQueue struct {
	db *gorm.DB
}

// NewOfflineQueue opens (or creates) the queue database at path. Use
// ":memory:" for a throwaway queue.
func NewOfflineQueue(path string) (*OfflineQueue, error) {
	if path == "" {
		return nil, fmt.Errorf("missing queue path")
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open offline queue: %w", err)
	}
	if err := gdb.AutoMigrate(&PendingMessage{}); err != nil {
		return nil, fmt.Errorf("failed to migrate offline queue: %w", err)
	}
	return &OfflineQueue{db: gdb}, nil
}

// Save appends a message to the queue and returns the stored row.
func (q *OfflineQueue) Save(sessionID uuid.UUID, content string) (*PendingMessage, error) {
	row := &PendingMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Content:   content,
		QueuedAt:  time.Now().UTC(),
	}
	if err := q.db.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to queue message: %w", err)
	}
	return row, nil
}

// ListPending returns queued messages for a session oldest first.
func (q *OfflineQueue) ListPending(sessionID uuid.UUID) ([]*PendingMessage, error) {
	var rows []*PendingMessage
	err := q.db.
		Where("session_id = ?", sessionID).
		Order("queued_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes one delivered message from the queue.
func (q *OfflineQueue) Delete(id uuid.UUID) error {
	return q.db.Where("id = ?", id).Delete(&PendingMessage{}).Error
}

func (q *OfflineQueue) Close() error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
