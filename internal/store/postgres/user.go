package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/caretrace/internal/domain"
)

const userColumns = `id, email, name, role, password_hash,
	avg_session_seconds, completed_sessions, created_at, updated_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.Name, u.Role, u.PasswordHash,
		u.AvgSessionSeconds, u.CompletedSessions, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("userRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}

	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("userRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}

	return u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}

	return u, nil
}

// RecordSessionDuration folds one completed session into the user's running
// mean in a single statement, so concurrent terminations cannot lose a sample.
func (r *UserRepo) RecordSessionDuration(ctx context.Context, id uuid.UUID, seconds float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET
		     avg_session_seconds = (avg_session_seconds * completed_sessions + $1) / (completed_sessions + 1),
		     completed_sessions = completed_sessions + 1,
		     updated_at = now()
		 WHERE id = $2`,
		seconds, id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.RecordSessionDuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("userRepo.RecordSessionDuration: %w", domain.ErrNotFound)
	}

	return nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User

	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash,
		&u.AvgSessionSeconds, &u.CompletedSessions, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()

	return &u, nil
}
