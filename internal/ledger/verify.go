package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/notify"
)

// Divergence reasons reported by VerifyRange.
const (
	ReasonChecksumMismatch = "checksum_mismatch"
	ReasonBrokenLink       = "broken_link"
	ReasonMissingEntry     = "missing_entry"
)

// VerificationResult reports the outcome of walking a chain range.
type VerificationResult struct {
	Valid              bool   `json:"valid"`
	FromSequence       int64  `json:"from_sequence"`
	ToSequence         int64  `json:"to_sequence"`
	CheckedCount       int64  `json:"checked_count"`
	DivergenceSequence *int64 `json:"divergence_sequence,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

// Verifier walks ledger ranges recomputing checksums and chain links.
//
// The hash chain is tamper-evident, not tamper-proof: a sufficiently
// privileged operator on the underlying store can rewrite history and
// recompute every hash. The verifier is therefore a scheduled detective
// control with alerting, not a cryptographic immutability guarantee.
type Verifier struct {
	repo      domain.AuditRepository
	alerts    AlertDispatcher
	batchSize int

	mu     sync.Mutex
	halted bool
}

// NewVerifier creates a verifier reading batchSize entries per round trip.
func NewVerifier(repo domain.AuditRepository, alerts AlertDispatcher, batchSize int) *Verifier {
	if alerts == nil {
		alerts = noopAlerts{}
	}
	if batchSize < 1 {
		batchSize = 500
	}
	return &Verifier{repo: repo, alerts: alerts, batchSize: batchSize}
}

// VerifyRange recomputes each entry's checksum from its stored fields and
// checks every previous-checksum link across [fromSeq, toSeq]. It streams in
// batches, honors ctx cancellation at batch boundaries, and is resumable from
// any fromSeq. The first divergence stops the walk; a divergence also halts
// automated compliance reporting until an operator clears it.
func (v *Verifier) VerifyRange(ctx context.Context, fromSeq, toSeq int64) (*VerificationResult, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	if toSeq == 0 {
		max, err := v.repo.MaxSequence(ctx)
		if err != nil {
			return nil, fmt.Errorf("ledger.VerifyRange: %w", err)
		}
		toSeq = max
	}

	result := &VerificationResult{Valid: true, FromSequence: fromSeq, ToSequence: toSeq}
	if toSeq < fromSeq {
		return result, nil
	}

	prevChecksum, err := v.anchorChecksum(ctx, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("ledger.VerifyRange: %w", err)
	}

	next := fromSeq
	for next <= toSeq {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ledger.VerifyRange: interrupted at seq %d: %w", next, err)
		}

		batchEnd := next + int64(v.batchSize) - 1
		if batchEnd > toSeq {
			batchEnd = toSeq
		}

		entries, err := v.repo.ListRange(ctx, next, batchEnd, v.batchSize)
		if err != nil {
			return nil, fmt.Errorf("ledger.VerifyRange: %w", err)
		}

		for _, e := range entries {
			if e.Sequence != next {
				return v.diverged(result, next, ReasonMissingEntry), nil
			}
			if e.PreviousChecksum != prevChecksum {
				return v.diverged(result, e.Sequence, ReasonBrokenLink), nil
			}
			if domain.ComputeChecksum(e) != e.Checksum {
				return v.diverged(result, e.Sequence, ReasonChecksumMismatch), nil
			}
			prevChecksum = e.Checksum
			result.CheckedCount++
			next++
		}

		// Fewer rows than the range demands: a sequence is missing.
		if next <= batchEnd {
			return v.diverged(result, next, ReasonMissingEntry), nil
		}
	}

	return result, nil
}

// anchorChecksum returns the expected previous checksum of the first entry in
// the range: the stored checksum of fromSeq-1, or the genesis value.
func (v *Verifier) anchorChecksum(ctx context.Context, fromSeq int64) (string, error) {
	if fromSeq <= 1 {
		return domain.GenesisChecksum, nil
	}
	prev, err := v.repo.GetBySequence(ctx, fromSeq-1)
	if err != nil {
		return "", fmt.Errorf("anchor entry %d: %w", fromSeq-1, err)
	}
	return prev.Checksum, nil
}

func (v *Verifier) diverged(result *VerificationResult, seq int64, reason string) *VerificationResult {
	result.Valid = false
	result.DivergenceSequence = &seq
	result.Reason = reason

	log.Error().
		Int64("sequence", seq).
		Str("reason", reason).
		Msg("ledger: chain verification detected divergence; compliance reporting halted")

	v.mu.Lock()
	v.halted = true
	v.mu.Unlock()

	v.alerts.Dispatch(notify.Alert{
		Kind:    notify.KindIntegrityFailure,
		Summary: "audit chain divergence detected",
		Fields: map[string]string{
			"sequence": fmt.Sprint(seq),
			"reason":   reason,
		},
	})

	return result
}

// TrustHalted reports whether a past verification found a divergence that has
// not been cleared by an operator. The compliance aggregator refuses to run
// while this holds.
func (v *Verifier) TrustHalted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.halted
}

// ClearHalt re-enables compliance reporting after investigation.
func (v *Verifier) ClearHalt() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.halted = false
}
