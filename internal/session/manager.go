// Package session implements the session lifecycle state machine: sliding and
// absolute expiry, per-token serialization, activity counters, and anomaly
// scoring.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/notify"
)

const (
	tokenPrefix  = "cts_"
	tokenRandLen = 32 // 32 bytes = 64 hex chars

	// casRetries bounds transparent retries of lost updates from another
	// process instance; within this process the per-token lock already
	// serializes.
	casRetries = 3
)

// Recorder appends access events to the audit ledger, best effort.
type Recorder interface {
	RecordAccess(ctx context.Context, draft *domain.AuditEntry) *domain.AuditEntry
}

// AlertDispatcher receives fire-and-forget security alerts.
type AlertDispatcher interface {
	Dispatch(alert notify.Alert)
}

type noopAlerts struct{}

func (noopAlerts) Dispatch(notify.Alert) {}

// Context is the authenticated identity returned by a successful Validate.
type Context struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
}

// Meta carries the request context recorded with session audit events.
type Meta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// Manager owns all session state transitions. Validate and Terminate are
// atomic per session via a per-token lock; distinct sessions proceed fully in
// parallel.
type Manager struct {
	sessions domain.SessionRepository
	users    domain.UserRepository
	recorder Recorder
	alerts   AlertDispatcher

	inactivityWindow time.Duration
	maxLifetime      time.Duration

	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager. alerts may be nil.
func NewManager(
	sessions domain.SessionRepository,
	users domain.UserRepository,
	recorder Recorder,
	alerts AlertDispatcher,
	inactivityWindow, maxLifetime time.Duration,
	opts ...Option,
) *Manager {
	if alerts == nil {
		alerts = noopAlerts{}
	}
	m := &Manager{
		sessions:         sessions,
		users:            users,
		recorder:         recorder,
		alerts:           alerts,
		inactivityWindow: inactivityWindow,
		maxLifetime:      maxLifetime,
		now:              time.Now,
		locks:            make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new Active session for an already-authenticated user and
// records the LOGIN event.
func (m *Manager) Create(ctx context.Context, user *domain.User, meta Meta) (*domain.Session, error) {
	now := m.now().UTC()

	expires := now.Add(m.inactivityWindow)
	deadline := now.Add(m.maxLifetime)
	if expires.After(deadline) {
		expires = deadline
	}

	var s *domain.Session
	// Tokens are unique across all sessions ever issued; a collision on
	// 256 random bits is effectively impossible, but the store enforces it
	// and we retry once rather than fail the login.
	for attempt := 0; attempt < 2; attempt++ {
		token, err := newToken()
		if err != nil {
			return nil, fmt.Errorf("session.Create: %w", err)
		}

		s = &domain.Session{
			ID:               uuid.New(),
			UserID:           user.ID,
			Token:            token,
			CreatedAt:        now,
			LastActivity:     now,
			ExpiresAt:        expires,
			AbsoluteDeadline: deadline,
			WindowStart:      now.Truncate(time.Hour),
		}

		err = m.sessions.Create(ctx, s)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == 1 {
			return nil, fmt.Errorf("session.Create: %w", err)
		}
	}

	m.recorder.RecordAccess(ctx, &domain.AuditEntry{
		ActorID:   &user.ID,
		Action:    domain.ActionLogin,
		SessionID: s.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
		Success:   true,
	})

	return s, nil
}

// Validate checks a token against the session state machine and, on success,
// slides the expiry, bumps counters, and rescores the session. Terminal
// transitions (Expired, TimedOut) are persisted before the failure is
// returned. The failure is terminal for the request: callers surface it as an
// authentication failure, never retry it silently.
func (m *Manager) Validate(ctx context.Context, token string, phiAccess bool) (*Context, error) {
	lock := m.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	var sctx *Context
	err := m.withCASRetry(func() error {
		s, err := m.sessions.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				m.releaseLock(token)
			}
			return fmt.Errorf("session.Validate: %w", err)
		}

		if s.Terminated {
			m.releaseLock(token)
			return fmt.Errorf("session.Validate: already terminated: %w", domain.ErrSessionInvalid)
		}

		now := m.now().UTC()

		if s.DeadlineReached(now) {
			if termErr := m.terminateLocked(ctx, s, domain.TerminationExpired, now); termErr != nil {
				return termErr
			}
			return fmt.Errorf("session.Validate: absolute deadline passed: %w", domain.ErrSessionInvalid)
		}

		if s.IdleTimedOut(now, m.inactivityWindow) {
			if termErr := m.terminateLocked(ctx, s, domain.TerminationTimeout, now); termErr != nil {
				return termErr
			}
			return fmt.Errorf("session.Validate: inactivity window elapsed: %w", domain.ErrSessionInvalid)
		}

		user, err := m.users.GetByID(ctx, s.UserID)
		if err != nil {
			return fmt.Errorf("session.Validate: load user: %w", err)
		}

		expectedCount := s.RequestCount

		s.RollWindow(now)
		s.LastActivity = now
		s.ExpiresAt = now.Add(m.inactivityWindow)
		if s.ExpiresAt.After(s.AbsoluteDeadline) {
			s.ExpiresAt = s.AbsoluteDeadline
		}
		s.RequestCount++
		s.WindowRequests++
		if phiAccess {
			s.PHIAccessCount++
			s.WindowPHI++
		}

		m.rescore(s, user, now)

		if err := m.sessions.Update(ctx, s, expectedCount); err != nil {
			return fmt.Errorf("session.Validate: %w", err)
		}

		sctx = &Context{SessionID: s.ID, UserID: s.UserID, Role: user.Role}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sctx, nil
}

// Terminate ends a session by token. Idempotent: terminating an already
// terminated session is a no-op.
func (m *Manager) Terminate(ctx context.Context, token string, reason domain.TerminationReason) error {
	if !reason.Valid() {
		return fmt.Errorf("session.Terminate: unknown reason %q: %w", reason, domain.ErrValidation)
	}

	lock := m.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	return m.withCASRetry(func() error {
		s, err := m.sessions.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				m.releaseLock(token)
			}
			return fmt.Errorf("session.Terminate: %w", err)
		}
		if s.Terminated {
			m.releaseLock(token)
			return nil
		}
		if err := m.terminateLocked(ctx, s, reason, m.now().UTC()); err != nil {
			return fmt.Errorf("session.Terminate: %w", err)
		}
		return nil
	})
}

// TerminateByID ends a session by its id, for the admin/security endpoint.
func (m *Manager) TerminateByID(ctx context.Context, id uuid.UUID, reason domain.TerminationReason) error {
	s, err := m.sessions.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("session.TerminateByID: %w", err)
	}
	return m.Terminate(ctx, s.Token, reason)
}

// RecordFailedAttempt bumps the failure counter and rescores. Advisory only:
// it never terminates the session itself; enforcement is an upstream policy.
func (m *Manager) RecordFailedAttempt(ctx context.Context, token string) error {
	lock := m.lockFor(token)
	lock.Lock()
	defer lock.Unlock()

	return m.withCASRetry(func() error {
		s, err := m.sessions.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				m.releaseLock(token)
			}
			return fmt.Errorf("session.RecordFailedAttempt: %w", err)
		}
		if s.Terminated {
			m.releaseLock(token)
			return fmt.Errorf("session.RecordFailedAttempt: %w", domain.ErrSessionInvalid)
		}

		now := m.now().UTC()
		expectedCount := s.RequestCount

		s.FailedAttempts++

		user, err := m.users.GetByID(ctx, s.UserID)
		if err != nil {
			return fmt.Errorf("session.RecordFailedAttempt: load user: %w", err)
		}
		m.rescore(s, user, now)

		if err := m.sessions.Update(ctx, s, expectedCount); err != nil {
			return fmt.Errorf("session.RecordFailedAttempt: %w", err)
		}
		return nil
	})
}

// terminateLocked persists the terminal transition, folds the session
// duration into the user's history, and records the LOGOUT event. Caller
// holds the token lock.
func (m *Manager) terminateLocked(ctx context.Context, s *domain.Session, reason domain.TerminationReason, now time.Time) error {
	expectedCount := s.RequestCount

	s.Terminated = true
	s.TerminationReason = reason
	s.TerminatedAt = &now

	if err := m.sessions.Update(ctx, s, expectedCount); err != nil {
		return err
	}

	duration := now.Sub(s.CreatedAt)
	if err := m.users.RecordSessionDuration(ctx, s.UserID, duration.Seconds()); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("session: failed to record session duration")
	}

	detail := ""
	if reason != domain.TerminationLogout {
		detail = string(reason)
	}
	m.recorder.RecordAccess(ctx, &domain.AuditEntry{
		ActorID:     &s.UserID,
		Action:      domain.ActionLogout,
		SessionID:   s.ID,
		Success:     true,
		ErrorDetail: detail,
	})

	m.releaseLock(s.Token)
	return nil
}

// rescore recomputes the anomaly score and dispatches an alert the first time
// a session crosses the flag threshold.
func (m *Manager) rescore(s *domain.Session, user *domain.User, now time.Time) {
	score := Score(ScoreInput{
		RequestsThisHour:    s.WindowRequests,
		PHIAccessesThisHour: s.WindowPHI,
		FailedAttempts:      s.FailedAttempts,
		Hour:                now.Hour(),
		SessionDuration:     now.Sub(s.CreatedAt),
		HistoricalAvg:       user.AvgSessionDuration(),
	})

	s.AnomalyScore = score
	if Suspicious(score) && !s.FlaggedSuspicious {
		s.FlaggedSuspicious = true
		m.alerts.Dispatch(notify.Alert{
			Kind:    notify.KindSuspiciousSession,
			Summary: "session crossed anomaly threshold",
			Fields: map[string]string{
				"session_id": s.ID.String(),
				"user_id":    s.UserID.String(),
				"score":      fmt.Sprintf("%.1f", score),
			},
		})
	}
}

// withCASRetry retries fn when the store reports a lost update.
func (m *Manager) withCASRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < casRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return err
}

func (m *Manager) lockFor(token string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[token]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[token] = lock
	}
	return lock
}

// releaseLock drops the map entry for a token that has reached a dead end
// (terminated or unknown), so garbage tokens cannot grow the map. Goroutines
// already parked on the old mutex proceed and hit the same dead end.
func (m *Manager) releaseLock(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, token)
}

func newToken() (string, error) {
	raw := make([]byte, tokenRandLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(raw), nil
}
