// Package compliance builds the daily access rollups that back regulator
// reporting: per user, per resource type, per action counts derived from the
// audit ledger.
package compliance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/ledger"
)

// Querier is the read side of the audit ledger.
type Querier interface {
	Query(f domain.AuditFilter) *ledger.Iterator
}

// TrustGuard reports whether ledger integrity is currently in doubt. While
// halted, summaries must not be generated: a rollup over a tampered ledger
// would launder the tampering into official numbers.
type TrustGuard interface {
	TrustHalted() bool
}

type alwaysTrusted struct{}

func (alwaysTrusted) TrustHalted() bool { return false }

// Aggregator computes daily compliance summaries from ledger entries.
type Aggregator struct {
	ledger Querier
	store  domain.ComplianceRepository
	guard  TrustGuard
	now    func() time.Time
}

// NewAggregator creates an aggregator. guard may be nil when no verifier is
// wired, in which case the ledger is always treated as trusted.
func NewAggregator(ledger Querier, store domain.ComplianceRepository, guard TrustGuard) *Aggregator {
	if guard == nil {
		guard = alwaysTrusted{}
	}
	return &Aggregator{ledger: ledger, store: store, guard: guard, now: time.Now}
}

type summaryKey struct {
	userID       uuid.UUID
	resourceType string
	action       domain.Action
}

type rollup struct {
	total       int64
	phiReads    int64
	phiUpdates  int64
	phiDecrypts int64
	phiExports  int64
	resources   map[string]struct{}
}

// RunDaily aggregates all ledger entries of the given UTC day and upserts one
// summary row per (user, resource type, action) key. Re-running the same day
// replaces the rows rather than duplicating them, so a crashed or repeated run
// is harmless. Returns the number of rows written.
//
// System events without an actor are not attributable to a user and are left
// out of the per-user rollup; they remain queryable on the ledger itself.
func (a *Aggregator) RunDaily(ctx context.Context, date time.Time) (int, error) {
	if a.guard.TrustHalted() {
		return 0, fmt.Errorf("compliance.RunDaily: ledger trust halted pending review: %w", domain.ErrUnavailable)
	}

	day := date.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	groups := make(map[summaryKey]*rollup)

	it := a.ledger.Query(domain.AuditFilter{From: &day, To: &next})
	for it.Next(ctx) {
		e := it.Entry()
		if e.ActorID == nil {
			continue
		}

		key := summaryKey{userID: *e.ActorID, resourceType: e.ResourceType, action: e.Action}
		r, ok := groups[key]
		if !ok {
			r = &rollup{resources: make(map[string]struct{})}
			groups[key] = r
		}

		r.total++
		if e.ResourceID != "" {
			r.resources[e.ResourceID] = struct{}{}
		}
		for _, id := range e.ResourceIDs {
			r.resources[id] = struct{}{}
		}

		if e.PHIAccessed {
			switch e.Action {
			case domain.ActionRead, domain.ActionBulkRead:
				r.phiReads++
			case domain.ActionUpdate, domain.ActionBulkUpdate:
				r.phiUpdates++
			case domain.ActionDecrypt:
				r.phiDecrypts++
			case domain.ActionExport:
				r.phiExports++
			}
		}
	}
	if err := it.Err(); err != nil {
		return 0, fmt.Errorf("compliance.RunDaily: %w", err)
	}

	keys := make([]summaryKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	// Stable write order keeps retries and their logs comparable run to run.
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.userID != b.userID {
			return a.userID.String() < b.userID.String()
		}
		if a.resourceType != b.resourceType {
			return a.resourceType < b.resourceType
		}
		return a.action < b.action
	})

	generated := a.now().UTC()
	for i, k := range keys {
		r := groups[k]
		s := &domain.ComplianceSummary{
			Date:              day,
			UserID:            k.userID,
			ResourceType:      k.resourceType,
			Action:            k.action,
			TotalCount:        r.total,
			PHIReads:          r.phiReads,
			PHIUpdates:        r.phiUpdates,
			PHIDecrypts:       r.phiDecrypts,
			PHIExports:        r.phiExports,
			DistinctResources: int64(len(r.resources)),
			GeneratedAt:       generated,
		}
		if err := a.store.Upsert(ctx, s); err != nil {
			// Committed keys stay committed; the count tells the caller how
			// far the run got before failing.
			return i, fmt.Errorf("compliance.RunDaily: upsert %s/%s/%s: %w",
				k.userID, k.resourceType, k.action, err)
		}
	}

	log.Info().
		Time("date", day).
		Int("rows", len(keys)).
		Msg("compliance: daily aggregation complete")

	return len(keys), nil
}

// Report returns the stored summary rows for a UTC day.
func (a *Aggregator) Report(ctx context.Context, date time.Time) ([]*domain.ComplianceSummary, error) {
	rows, err := a.store.ListByDate(ctx, date.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("compliance.Report: %w", err)
	}
	return rows, nil
}
