package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ComplianceSummary is one row of the nightly rollup, keyed by
// (date, user, resource type, action). Rows are written only by the
// aggregation job via idempotent upsert.
type ComplianceSummary struct {
	Date         time.Time `json:"date"` // midnight UTC of the summarized day
	UserID       uuid.UUID `json:"user_id"`
	ResourceType string    `json:"resource_type"`
	Action       Action    `json:"action"`

	TotalCount        int64 `json:"total_count"`
	PHIReads          int64 `json:"phi_reads"`
	PHIUpdates        int64 `json:"phi_updates"`
	PHIDecrypts       int64 `json:"phi_decrypts"`
	PHIExports        int64 `json:"phi_exports"`
	DistinctResources int64 `json:"distinct_resources"`

	GeneratedAt time.Time `json:"generated_at"`
}

type ComplianceRepository interface {
	// Upsert replaces the row for the summary's key, never duplicates it.
	Upsert(ctx context.Context, s *ComplianceSummary) error
	ListByDate(ctx context.Context, date time.Time) ([]*ComplianceSummary, error)
}
