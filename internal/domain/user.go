package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a clinical user as seen by the audit subsystem: enough identity to
// verify a credential at login and to feed the long-session anomaly signal.
// The full staff directory lives upstream in the EMR.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"` // "physician", "nurse", "clerk", "admin"
	PasswordHash string    `json:"-"`    // argon2id

	// Running mean of completed session durations, for anomaly scoring.
	AvgSessionSeconds float64 `json:"-"`
	CompletedSessions int64   `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvgSessionDuration returns the historical average as a duration, zero when
// the user has no completed sessions yet.
func (u *User) AvgSessionDuration() time.Duration {
	return time.Duration(u.AvgSessionSeconds * float64(time.Second))
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// RecordSessionDuration folds one completed session into the user's
	// running mean.
	RecordSessionDuration(ctx context.Context, id uuid.UUID, seconds float64) error
}
