// Package ledger implements the append-only, hash-chained PHI access ledger:
// appends with chain linkage, best-effort recording for clinical hot paths,
// restartable queries, and streaming chain verification.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/notify"
)

// AlertDispatcher receives fire-and-forget security alerts.
type AlertDispatcher interface {
	Dispatch(alert notify.Alert)
}

type noopAlerts struct{}

func (noopAlerts) Dispatch(notify.Alert) {}

// Service owns writes to the audit ledger.
type Service struct {
	repo   domain.AuditRepository
	alerts AlertDispatcher

	retryAttempts int
	retryBase     time.Duration

	now func() time.Time
}

// NewService creates a ledger service. alerts may be nil.
func NewService(repo domain.AuditRepository, alerts AlertDispatcher, retryAttempts int, retryBase time.Duration) *Service {
	if alerts == nil {
		alerts = noopAlerts{}
	}
	if retryBase <= 0 {
		retryBase = 100 * time.Millisecond
	}
	return &Service{
		repo:          repo,
		alerts:        alerts,
		retryAttempts: retryAttempts,
		retryBase:     retryBase,
		now:           time.Now,
	}
}

// Append validates the draft, redacts PHI values from before/after states,
// fills defaults, and writes the entry through the chained append. The store
// assigns Sequence, PreviousChecksum, and Checksum under the global ordering
// lock. Returns ErrValidation for malformed drafts and ErrUnavailable for
// transient storage failures.
func (s *Service) Append(ctx context.Context, draft *domain.AuditEntry) (*domain.AuditEntry, error) {
	if err := validateDraft(draft); err != nil {
		return nil, fmt.Errorf("ledger.Append: %w", err)
	}

	e := *draft

	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	// TIMESTAMPTZ keeps microseconds. Truncate before checksumming so the
	// stored row hashes back to the same checksum on verification.
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)

	// PHI values never reach storage in clear.
	e.BeforeState = domain.RedactState(e.ResourceType, e.BeforeState)
	e.AfterState = domain.RedactState(e.ResourceType, e.AfterState)

	if e.RiskScore == nil {
		score := domain.DefaultRiskScore(e.Action)
		e.RiskScore = &score
	}

	resourceCount := len(e.ResourceIDs)
	if resourceCount == 0 && e.ResourceID != "" {
		resourceCount = 1
	}
	e.ComplianceFlags = domain.DeriveComplianceFlags(e.Action, resourceCount, *e.RiskScore)

	if err := s.repo.AppendChained(ctx, &e); err != nil {
		return nil, fmt.Errorf("ledger.Append: %w", err)
	}

	s.alertIfFlagged(&e)

	return &e, nil
}

// RecordAccess is the hot-path entry point used by clinical write paths and
// the session manager. A logging failure must never block the business
// operation it describes: transient errors are retried with capped backoff,
// and on exhaustion the gap is logged and alerted for manual backfill instead
// of being propagated. The returned entry is nil when recording failed.
func (s *Service) RecordAccess(ctx context.Context, draft *domain.AuditEntry) *domain.AuditEntry {
	var lastErr error

	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, s.retryBase<<(attempt-1)) {
				break
			}
		}

		entry, err := s.Append(ctx, draft)
		if err == nil {
			return entry
		}
		lastErr = err

		if errors.Is(err, domain.ErrValidation) {
			// Retrying cannot fix a malformed draft.
			log.Error().Err(err).
				Str("action", string(draft.Action)).
				Msg("ledger: dropping malformed audit draft")
			return nil
		}
	}

	log.Error().Err(lastErr).
		Str("action", string(draft.Action)).
		Str("resource_type", draft.ResourceType).
		Msg("ledger: append retries exhausted, audit gap flagged for backfill")

	s.alerts.Dispatch(notify.Alert{
		Kind:    notify.KindAuditGap,
		Summary: "audit append failed after retries; manual backfill required",
		Fields: map[string]string{
			"action":        string(draft.Action),
			"resource_type": draft.ResourceType,
			"error":         fmt.Sprint(lastErr),
		},
	})

	return nil
}

// List reads matching entries in sequence order. Used by the HTTP audit
// endpoint; Query wraps it into a restartable iterator for batch consumers.
func (s *Service) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
	entries, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("ledger.List: %w", err)
	}
	return entries, nil
}

// ArchiveBefore flips the archived flag on entries older than cutoff during
// retention rollover. Entries are never physically deleted inside the
// retention window.
func (s *Service) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repo.ArchiveBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger.ArchiveBefore: %w", err)
	}
	if n > 0 {
		log.Info().Int64("entries", n).Time("cutoff", cutoff).Msg("ledger: retention rollover archived entries")
	}
	return n, nil
}

func (s *Service) alertIfFlagged(e *domain.AuditEntry) {
	highRisk := false
	for _, f := range e.ComplianceFlags {
		if f == domain.FlagHighRisk || f == domain.FlagEmergencyAccess {
			highRisk = true
			break
		}
	}
	if !highRisk {
		return
	}

	fields := map[string]string{
		"sequence":   fmt.Sprint(e.Sequence),
		"action":     string(e.Action),
		"risk_score": fmt.Sprint(*e.RiskScore),
	}
	if e.ActorID != nil {
		fields["actor"] = e.ActorID.String()
	}
	if e.ResourceType != "" {
		fields["resource_type"] = e.ResourceType
	}

	s.alerts.Dispatch(notify.Alert{
		Kind:    notify.KindHighRiskAccess,
		Summary: "high-risk access recorded",
		Fields:  fields,
	})
}

func validateDraft(draft *domain.AuditEntry) error {
	if draft == nil {
		return fmt.Errorf("nil draft: %w", domain.ErrValidation)
	}
	if !draft.Action.Valid() {
		return fmt.Errorf("unknown action %q: %w", draft.Action, domain.ErrValidation)
	}
	if draft.Sequence != 0 || draft.Checksum != "" || draft.PreviousChecksum != "" {
		return fmt.Errorf("draft carries chain fields: %w", domain.ErrValidation)
	}
	if draft.RiskScore != nil && (*draft.RiskScore < 0 || *draft.RiskScore > 100) {
		return fmt.Errorf("risk_score %d out of range: %w", *draft.RiskScore, domain.ErrValidation)
	}

	switch draft.Action {
	case domain.ActionLogin, domain.ActionLogout:
		// Auth events need no resource.
	default:
		if draft.ResourceType == "" {
			return fmt.Errorf("resource_type required for action %s: %w", draft.Action, domain.ErrValidation)
		}
	}

	if draft.Action.Bulk() && len(draft.ResourceIDs) == 0 {
		return fmt.Errorf("bulk action without resource_ids: %w", domain.ErrValidation)
	}

	return nil
}

// sleepCtx waits d or until ctx is done; reports whether the full wait
// completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
