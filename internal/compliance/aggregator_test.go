package compliance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/caretrace/internal/compliance"
	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/ledger"
)

// --- fixtures ---------------------------------------------------------------

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (r *memAuditRepo) AppendChained(_ context.Context, e *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.Sequence = int64(len(r.entries)) + 1
	if len(r.entries) == 0 {
		e.PreviousChecksum = domain.GenesisChecksum
	} else {
		e.PreviousChecksum = r.entries[len(r.entries)-1].Checksum
	}
	e.Checksum = domain.ComputeChecksum(e)

	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *memAuditRepo) GetBySequence(_ context.Context, seq int64) (*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq < 1 || seq > int64(len(r.entries)) {
		return nil, domain.ErrNotFound
	}
	cp := *r.entries[seq-1]
	return &cp, nil
}

func (r *memAuditRepo) List(_ context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.AuditEntry
	for _, e := range r.entries {
		if e.Sequence <= f.AfterSequence {
			continue
		}
		if f.From != nil && e.OccurredAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.OccurredAt.Before(*f.To) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *memAuditRepo) ListRange(_ context.Context, fromSeq, toSeq int64, limit int) ([]*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range r.entries {
		if e.Sequence < fromSeq || e.Sequence > toSeq {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memAuditRepo) MaxSequence(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

func (r *memAuditRepo) ArchiveBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type memComplianceRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.ComplianceSummary
}

func newMemComplianceRepo() *memComplianceRepo {
	return &memComplianceRepo{rows: make(map[string]*domain.ComplianceSummary)}
}

func key(s *domain.ComplianceSummary) string {
	return s.Date.Format("2006-01-02") + "|" + s.UserID.String() + "|" + s.ResourceType + "|" + string(s.Action)
}

func (r *memComplianceRepo) Upsert(_ context.Context, s *domain.ComplianceSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[key(s)] = &cp
	return nil
}

func (r *memComplianceRepo) ListByDate(_ context.Context, date time.Time) ([]*domain.ComplianceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ComplianceSummary
	for _, s := range r.rows {
		if s.Date.Equal(date) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type haltedGuard struct{ halted bool }

func (g haltedGuard) TrustHalted() bool { return g.halted }

var day = time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

// append writes one entry through the real service so chain bookkeeping stays
// realistic.
func appendEntry(t *testing.T, svc *ledger.Service, e *domain.AuditEntry) {
	t.Helper()
	_, err := svc.Append(context.Background(), e)
	require.NoError(t, err)
}

func seedDay(t *testing.T, svc *ledger.Service, physician, nurse uuid.UUID) {
	t.Helper()

	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	appendEntry(t, svc, &domain.AuditEntry{
		ActorID: &physician, Action: domain.ActionLogin,
		OccurredAt: at(8), Success: true,
	})
	appendEntry(t, svc, &domain.AuditEntry{
		ActorID: &physician, Action: domain.ActionRead,
		ResourceType: "patients", ResourceID: "p-1", PHIAccessed: true,
		OccurredAt: at(9), Success: true,
	})
	appendEntry(t, svc, &domain.AuditEntry{
		ActorID: &physician, Action: domain.ActionRead,
		ResourceType: "patients", ResourceID: "p-2", PHIAccessed: true,
		OccurredAt: at(9), Success: true,
	})
	appendEntry(t, svc, &domain.AuditEntry{ // same resource twice: distinct stays 2
		ActorID: &physician, Action: domain.ActionRead,
		ResourceType: "patients", ResourceID: "p-1", PHIAccessed: true,
		OccurredAt: at(10), Success: true,
	})
	appendEntry(t, svc, &domain.AuditEntry{
		ActorID: &physician, Action: domain.ActionExport,
		ResourceType: "lab_results", ResourceID: "lab-9", PHIAccessed: true,
		OccurredAt: at(11), Success: true,
	})
	appendEntry(t, svc, &domain.AuditEntry{
		ActorID: &nurse, Action: domain.ActionBulkRead,
		ResourceType: "encounters", ResourceIDs: []string{"e-1", "e-2", "e-3"},
		PHIAccessed: true, OccurredAt: at(14), Success: true,
	})
	appendEntry(t, svc, &domain.AuditEntry{ // non-PHI update still counts in total
		ActorID: &nurse, Action: domain.ActionUpdate,
		ResourceType: "appointments", ResourceID: "a-5",
		OccurredAt: at(15), Success: true,
	})
	appendEntry(t, svc, &domain.AuditEntry{ // next day: out of range
		ActorID: &physician, Action: domain.ActionRead,
		ResourceType: "patients", ResourceID: "p-3", PHIAccessed: true,
		OccurredAt: day.Add(25 * time.Hour), Success: true,
	})
}

// --- tests ------------------------------------------------------------------

func TestRunDaily(t *testing.T) {
	t.Parallel()

	repo := &memAuditRepo{}
	svc := ledger.NewService(repo, nil, 0, time.Millisecond)
	store := newMemComplianceRepo()

	physician := uuid.New()
	nurse := uuid.New()
	seedDay(t, svc, physician, nurse)

	agg := compliance.NewAggregator(svc, store, nil)
	rows, err := agg.RunDaily(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 5, rows) // login, patients/READ, lab/EXPORT, encounters/BULK_READ, appointments/UPDATE

	byKey := func(userID uuid.UUID, rt string, action domain.Action) *domain.ComplianceSummary {
		s, ok := store.rows[key(&domain.ComplianceSummary{
			Date: day, UserID: userID, ResourceType: rt, Action: action,
		})]
		require.True(t, ok, "missing row %s/%s/%s", userID, rt, action)
		return s
	}

	reads := byKey(physician, "patients", domain.ActionRead)
	assert.Equal(t, int64(3), reads.TotalCount)
	assert.Equal(t, int64(3), reads.PHIReads)
	assert.Equal(t, int64(2), reads.DistinctResources) // p-1 touched twice

	exports := byKey(physician, "lab_results", domain.ActionExport)
	assert.Equal(t, int64(1), exports.TotalCount)
	assert.Equal(t, int64(1), exports.PHIExports)

	bulk := byKey(nurse, "encounters", domain.ActionBulkRead)
	assert.Equal(t, int64(1), bulk.TotalCount)
	assert.Equal(t, int64(1), bulk.PHIReads)
	assert.Equal(t, int64(3), bulk.DistinctResources)

	updates := byKey(nurse, "appointments", domain.ActionUpdate)
	assert.Equal(t, int64(1), updates.TotalCount)
	assert.Zero(t, updates.PHIUpdates)

	login := byKey(physician, "", domain.ActionLogin)
	assert.Equal(t, int64(1), login.TotalCount)
}

func TestRunDaily_Idempotent(t *testing.T) {
	t.Parallel()

	repo := &memAuditRepo{}
	svc := ledger.NewService(repo, nil, 0, time.Millisecond)
	store := newMemComplianceRepo()
	seedDay(t, svc, uuid.New(), uuid.New())

	agg := compliance.NewAggregator(svc, store, nil)

	first, err := agg.RunDaily(context.Background(), day)
	require.NoError(t, err)
	second, err := agg.RunDaily(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, store.rows, first) // replaced, not duplicated

	rows, err := agg.Report(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, rows, first)
}

func TestRunDaily_RefusesWhileTrustHalted(t *testing.T) {
	t.Parallel()

	repo := &memAuditRepo{}
	svc := ledger.NewService(repo, nil, 0, time.Millisecond)
	store := newMemComplianceRepo()

	agg := compliance.NewAggregator(svc, store, haltedGuard{halted: true})

	_, err := agg.RunDaily(context.Background(), day)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Empty(t, store.rows)
}

func TestRunDaily_EmptyDay(t *testing.T) {
	t.Parallel()

	repo := &memAuditRepo{}
	svc := ledger.NewService(repo, nil, 0, time.Millisecond)
	store := newMemComplianceRepo()

	agg := compliance.NewAggregator(svc, store, nil)
	rows, err := agg.RunDaily(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, rows)
}
