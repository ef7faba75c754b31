package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TerminationReason records why a session left the Active state.
type TerminationReason string

const (
	TerminationLogout   TerminationReason = "LOGOUT"
	TerminationExpired  TerminationReason = "EXPIRED" // absolute deadline reached
	TerminationTimeout  TerminationReason = "TIMEOUT" // inactivity window elapsed
	TerminationSecurity TerminationReason = "SECURITY"
	TerminationAdmin    TerminationReason = "ADMIN"
)

// Valid reports whether r is a known termination reason.
func (r TerminationReason) Valid() bool {
	switch r {
	case TerminationLogout, TerminationExpired, TerminationTimeout,
		TerminationSecurity, TerminationAdmin:
		return true
	}
	return false
}

// Session is one authenticated login. ExpiresAt slides forward on activity
// but never past AbsoluteDeadline; a terminated session can never be
// validated, extended, or re-activated.
type Session struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Token  string    `json:"-"` // opaque, unique across all sessions ever issued

	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	ExpiresAt        time.Time `json:"expires_at"`
	AbsoluteDeadline time.Time `json:"absolute_deadline"`

	Terminated        bool              `json:"terminated"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	TerminatedAt      *time.Time        `json:"terminated_at,omitempty"`

	RequestCount   int64 `json:"request_count"`
	PHIAccessCount int64 `json:"phi_access_count"`
	FailedAttempts int   `json:"failed_attempts"`

	// Rolling per-hour activity window feeding the anomaly scorer.
	WindowStart    time.Time `json:"-"`
	WindowRequests int       `json:"-"`
	WindowPHI      int       `json:"-"`

	AnomalyScore      float64 `json:"anomaly_score"`
	FlaggedSuspicious bool    `json:"flagged_suspicious"`
}

// DeadlineReached reports whether the hard lifetime cap has passed.
func (s *Session) DeadlineReached(now time.Time) bool {
	return now.After(s.AbsoluteDeadline)
}

// IdleTimedOut reports whether the inactivity window has elapsed since the
// last validated activity.
func (s *Session) IdleTimedOut(now time.Time, window time.Duration) bool {
	return now.Sub(s.LastActivity) > window
}

// RollWindow resets the hourly counters when now falls in a new wall-clock
// hour than the current window.
func (s *Session) RollWindow(now time.Time) {
	hour := now.Truncate(time.Hour)
	if !hour.Equal(s.WindowStart) {
		s.WindowStart = hour
		s.WindowRequests = 0
		s.WindowPHI = 0
	}
}

// SessionRepository persists sessions keyed by token. Update is a
// compare-and-swap on the stored request count so concurrent writers from
// another process instance cannot silently lose updates; callers retry on
// ErrConflict.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Update(ctx context.Context, s *Session, expectedRequestCount int64) error
}
