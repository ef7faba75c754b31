package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/caretrace/internal/domain"
)

// auditChainLockKey is the advisory lock serializing appends. A single key for
// the whole ledger: there is exactly one chain.
const auditChainLockKey = 0x6361_7265 // "care"

const auditColumns = `sequence, actor_id, action, resource_type, resource_id, resource_ids,
	phi_accessed, ip_address, user_agent, session_id, request_id, endpoint, method,
	occurred_at, success, error_detail, before_state, after_state,
	risk_score, compliance_flags, previous_checksum, checksum, archived`

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// AppendChained assigns the next sequence and previous checksum under a
// transaction-scoped advisory lock, computes the entry checksum, and inserts.
// The lock makes the read-tail-then-insert atomic across all writers, so two
// appends can never link to the same predecessor.
func (r *AuditRepo) AppendChained(ctx context.Context, e *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auditRepo.AppendChained: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainLockKey)
	if err != nil {
		return fmt.Errorf("auditRepo.AppendChained: lock: %w", err)
	}

	var tailSeq int64
	var tailChecksum string
	err = tx.QueryRow(ctx,
		`SELECT sequence, checksum FROM audit_entries ORDER BY sequence DESC LIMIT 1`,
	).Scan(&tailSeq, &tailChecksum)
	if errors.Is(err, pgx.ErrNoRows) {
		tailSeq = 0
		tailChecksum = domain.GenesisChecksum
	} else if err != nil {
		return fmt.Errorf("auditRepo.AppendChained: read tail: %w", err)
	}

	e.Sequence = tailSeq + 1
	e.PreviousChecksum = tailChecksum
	e.Checksum = domain.ComputeChecksum(e)

	before, err := marshalState(e.BeforeState)
	if err != nil {
		return fmt.Errorf("auditRepo.AppendChained: marshal before_state: %w", err)
	}
	after, err := marshalState(e.AfterState)
	if err != nil {
		return fmt.Errorf("auditRepo.AppendChained: marshal after_state: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_entries (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		         $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		e.Sequence, e.ActorID, e.Action, e.ResourceType, e.ResourceID, e.ResourceIDs,
		e.PHIAccessed, e.IPAddress, e.UserAgent, nilIfNilUUID(e.SessionID),
		e.RequestID, e.Endpoint, e.Method,
		e.OccurredAt, e.Success, e.ErrorDetail, before, after,
		e.RiskScore, e.ComplianceFlags, e.PreviousChecksum, e.Checksum, e.Archived,
	)
	if err != nil {
		return fmt.Errorf("auditRepo.AppendChained: insert: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("auditRepo.AppendChained: commit: %w", err)
	}

	return nil
}

func (r *AuditRepo) GetBySequence(ctx context.Context, seq int64) (*domain.AuditEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE sequence = $1`, seq)

	e, err := scanAuditEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("auditRepo.GetBySequence: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("auditRepo.GetBySequence: %w", err)
	}

	return e, nil
}

func (r *AuditRepo) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.AfterSequence > 0 {
		conds = append(conds, "sequence > "+arg(f.AfterSequence))
	}
	if f.ActorID != nil {
		conds = append(conds, "actor_id = "+arg(*f.ActorID))
	}
	if f.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(f.ResourceType))
	}
	if f.ResourceID != "" {
		conds = append(conds, "resource_id = "+arg(f.ResourceID))
	}
	if f.PHIOnly {
		conds = append(conds, "phi_accessed")
	}
	if f.MinRiskScore > 0 {
		conds = append(conds, "risk_score >= "+arg(f.MinRiskScore))
	}
	if f.From != nil {
		conds = append(conds, "occurred_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "occurred_at < "+arg(*f.To))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.List: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows, "auditRepo.List")
}

func (r *AuditRepo) ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]*domain.AuditEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+`
		 FROM audit_entries WHERE sequence >= $1 AND sequence <= $2
		 ORDER BY sequence LIMIT $3`,
		fromSeq, toSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditRepo.ListRange: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows, "auditRepo.ListRange")
}

func (r *AuditRepo) MaxSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM audit_entries`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.MaxSequence: %w", err)
	}

	return seq, nil
}

// ArchiveBefore flips the archived flag on entries older than cutoff. The flag
// is outside the checksum, so the chain stays verifiable afterwards.
func (r *AuditRepo) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE audit_entries SET archived = TRUE
		 WHERE occurred_at < $1 AND NOT archived`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("auditRepo.ArchiveBefore: %w", err)
	}

	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(row rowScanner) (*domain.AuditEntry, error) {
	var e domain.AuditEntry
	var sessionID *uuid.UUID
	var before, after []byte
	var riskScore int

	err := row.Scan(
		&e.Sequence, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.ResourceIDs,
		&e.PHIAccessed, &e.IPAddress, &e.UserAgent, &sessionID,
		&e.RequestID, &e.Endpoint, &e.Method,
		&e.OccurredAt, &e.Success, &e.ErrorDetail, &before, &after,
		&riskScore, &e.ComplianceFlags, &e.PreviousChecksum, &e.Checksum, &e.Archived,
	)
	if err != nil {
		return nil, err
	}

	e.RiskScore = &riskScore
	if sessionID != nil {
		e.SessionID = *sessionID
	}
	if err := unmarshalState(before, &e.BeforeState); err != nil {
		return nil, fmt.Errorf("unmarshal before_state: %w", err)
	}
	if err := unmarshalState(after, &e.AfterState); err != nil {
		return nil, fmt.Errorf("unmarshal after_state: %w", err)
	}

	e.OccurredAt = e.OccurredAt.UTC()
	e.PreviousChecksum = strings.TrimSpace(e.PreviousChecksum)
	e.Checksum = strings.TrimSpace(e.Checksum)

	return &e, nil
}

func scanAuditEntries(rows pgx.Rows, caller string) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return entries, nil
}

func marshalState(state map[string]string) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	return json.Marshal(state)
}

func unmarshalState(raw []byte, dst *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
