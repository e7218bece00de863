package chatclient

import (
	"time"

	"github.com/google/uuid"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
	"github.com/truenorthhq/truenorth-backend/pkg/ftmeta"
)

// Roles a transcript message can carry.
const (
	RoleUser      = domain.RoleUser
	RoleAssistant = domain.RoleAssistant
)

// Session statuses, in rough funnel order.
const (
	StatusIntake            = domain.StatusIntake
	StatusReadyToPay        = domain.StatusReadyToPay
	StatusPaid              = domain.StatusPaid
	StatusGenerating        = domain.StatusGenerating
	StatusIdeasGenerated    = domain.StatusIdeasGenerated
	StatusCompleted         = domain.StatusCompleted
	StatusAbandonedNotified = domain.StatusAbandonedNotified
)

// Profile seeds the greeting for brand-new sessions. City and Province may
// be empty when the host knows nothing about the user yet.
type Profile struct {
	City     string
	Province string
	FullName string
}

// Session is the client-side view of one intake session, decoded from the
// server's session resource.
type Session struct {
	ID        uuid.UUID            `json:"id"`
	Status    string               `json:"status"`
	Progress  int                  `json:"progress"`
	Collected ftmeta.CollectedData `json:"collected_data"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}
