// Package postgres implements the persistence layer on pgx.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/caretrace/internal/domain"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool       *pgxpool.Pool
	audit      *AuditRepo
	sessions   *SessionRepo
	users      *UserRepo
	compliance *ComplianceRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:       pool,
		audit:      NewAuditRepo(pool),
		sessions:   NewSessionRepo(pool),
		users:      NewUserRepo(pool),
		compliance: NewComplianceRepo(pool),
	}, nil
}

// EnsureSchema applies the embedded schema. Every statement is idempotent, so
// running it on every boot is safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("postgres.EnsureSchema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Audit() domain.AuditRepository           { return s.audit }
func (s *Store) Sessions() domain.SessionRepository      { return s.sessions }
func (s *Store) Users() domain.UserRepository            { return s.users }
func (s *Store) Compliance() domain.ComplianceRepository { return s.compliance }
