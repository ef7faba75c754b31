package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/caretrace/internal/domain"
)

const sessionColumns = `id, user_id, token, created_at, last_activity, expires_at, absolute_deadline,
	terminated, termination_reason, terminated_at,
	request_count, phi_access_count, failed_attempts,
	window_start, window_requests, window_phi,
	anomaly_score, flagged_suspicious`

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.UserID, s.Token, s.CreatedAt, s.LastActivity, s.ExpiresAt, s.AbsoluteDeadline,
		s.Terminated, nilIfEmpty(string(s.TerminationReason)), s.TerminatedAt,
		s.RequestCount, s.PHIAccessCount, s.FailedAttempts,
		s.WindowStart, s.WindowRequests, s.WindowPHI,
		s.AnomalyScore, s.FlaggedSuspicious,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("sessionRepo.Create: duplicate token: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionRepo.GetByToken: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByToken: %w", err)
	}

	return s, nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}

	return s, nil
}

// Update is a compare-and-swap on request_count: a writer that read a stale
// session gets ErrConflict and must reload and retry.
func (r *SessionRepo) Update(ctx context.Context, s *domain.Session, expectedRequestCount int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET
		     last_activity = $1, expires_at = $2,
		     terminated = $3, termination_reason = $4, terminated_at = $5,
		     request_count = $6, phi_access_count = $7, failed_attempts = $8,
		     window_start = $9, window_requests = $10, window_phi = $11,
		     anomaly_score = $12, flagged_suspicious = $13
		 WHERE token = $14 AND request_count = $15`,
		s.LastActivity, s.ExpiresAt,
		s.Terminated, nilIfEmpty(string(s.TerminationReason)), s.TerminatedAt,
		s.RequestCount, s.PHIAccessCount, s.FailedAttempts,
		s.WindowStart, s.WindowRequests, s.WindowPHI,
		s.AnomalyScore, s.FlaggedSuspicious,
		s.Token, expectedRequestCount,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err = r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE token = $1)`, s.Token,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sessionRepo.Update: %w", err)
		}
		if !exists {
			return fmt.Errorf("sessionRepo.Update: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("sessionRepo.Update: lost update: %w", domain.ErrConflict)
	}

	return nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var reason *string

	err := row.Scan(
		&s.ID, &s.UserID, &s.Token, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &s.AbsoluteDeadline,
		&s.Terminated, &reason, &s.TerminatedAt,
		&s.RequestCount, &s.PHIAccessCount, &s.FailedAttempts,
		&s.WindowStart, &s.WindowRequests, &s.WindowPHI,
		&s.AnomalyScore, &s.FlaggedSuspicious,
	)
	if err != nil {
		return nil, err
	}

	if reason != nil {
		s.TerminationReason = domain.TerminationReason(*reason)
	}

	s.CreatedAt = s.CreatedAt.UTC()
	s.LastActivity = s.LastActivity.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.AbsoluteDeadline = s.AbsoluteDeadline.UTC()
	s.WindowStart = s.WindowStart.UTC()

	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfNilUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
