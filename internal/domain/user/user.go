package user

import (
	"time"

	"github.com/google/uuid"
)

// User is an account holder. City/Province form the cached profile the
// welcome generator can greet from before any extraction has happened.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password  string    `gorm:"not null;column:password" json:"-"`
	FirstName string    `gorm:"not null;column:first_name" json:"first_name"`
	LastName  string    `gorm:"not null;column:last_name" json:"last_name"`
	City      string    `gorm:"column:city" json:"city,omitempty"`
	Province  string    `gorm:"column:province" json:"province,omitempty"`

	// CreditsRemaining gates chat turns; exhausted users get HTTP 402
	// until credits are restored by the payment flow.
	CreditsRemaining int `gorm:"not null;default:25" json:"credits_remaining"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "app_user" }

func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}
