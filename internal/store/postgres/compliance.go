package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/caretrace/internal/domain"
)

const complianceColumns = `date, user_id, resource_type, action,
	total_count, phi_reads, phi_updates, phi_decrypts, phi_exports,
	distinct_resources, generated_at`

type ComplianceRepo struct {
	pool *pgxpool.Pool
}

func NewComplianceRepo(pool *pgxpool.Pool) *ComplianceRepo {
	return &ComplianceRepo{pool: pool}
}

// Upsert replaces the row for the summary's key. The aggregation job re-runs
// whole days, so replace-on-conflict is what makes it idempotent.
func (r *ComplianceRepo) Upsert(ctx context.Context, s *domain.ComplianceSummary) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO compliance_summaries (`+complianceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (date, user_id, resource_type, action) DO UPDATE SET
		     total_count = EXCLUDED.total_count,
		     phi_reads = EXCLUDED.phi_reads,
		     phi_updates = EXCLUDED.phi_updates,
		     phi_decrypts = EXCLUDED.phi_decrypts,
		     phi_exports = EXCLUDED.phi_exports,
		     distinct_resources = EXCLUDED.distinct_resources,
		     generated_at = EXCLUDED.generated_at`,
		s.Date, s.UserID, s.ResourceType, s.Action,
		s.TotalCount, s.PHIReads, s.PHIUpdates, s.PHIDecrypts, s.PHIExports,
		s.DistinctResources, s.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("complianceRepo.Upsert: %w", err)
	}

	return nil
}

func (r *ComplianceRepo) ListByDate(ctx context.Context, date time.Time) ([]*domain.ComplianceSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+complianceColumns+`
		 FROM compliance_summaries WHERE date = $1
		 ORDER BY user_id, resource_type, action`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("complianceRepo.ListByDate: %w", err)
	}
	defer rows.Close()

	var out []*domain.ComplianceSummary
	for rows.Next() {
		var s domain.ComplianceSummary
		err = rows.Scan(
			&s.Date, &s.UserID, &s.ResourceType, &s.Action,
			&s.TotalCount, &s.PHIReads, &s.PHIUpdates, &s.PHIDecrypts, &s.PHIExports,
			&s.DistinctResources, &s.GeneratedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("complianceRepo.ListByDate: scan: %w", err)
		}
		s.Date = s.Date.UTC()
		s.GeneratedAt = s.GeneratedAt.UTC()
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("complianceRepo.ListByDate: rows: %w", err)
	}

	return out, nil
}
