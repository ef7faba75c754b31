package v1_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/clinicore/caretrace/internal/api/v1"
	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/ledger"
)

// ---------------------------------------------------------------------------
// POST /audit/events
// ---------------------------------------------------------------------------

func TestRecordAuditEvent(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		audit := &mockLedger{
			appendFunc: func(_ context.Context, draft *domain.AuditEntry) (*domain.AuditEntry, error) {
				require.Equal(t, domain.ActionExport, draft.Action)
				require.Equal(t, "lab_results", draft.ResourceType)
				require.True(t, draft.PHIAccessed)
				// An explicit zero is forwarded as a caller assessment,
				// not collapsed into "use the default".
				require.NotNil(t, draft.RiskScore)
				assert.Equal(t, 0, *draft.RiskScore)

				out := *draft
				out.Sequence = 42
				out.Checksum = "abc"
				return &out, nil
			},
		}

		v1.RegisterAuditRecordRoutes(api, audit)

		resp := api.Post("/audit/events", map[string]any{
			"action":        "EXPORT",
			"resource_type": "lab_results",
			"resource_id":   "lab-77",
			"phi_accessed":  true,
			"success":       true,
			"risk_score":    0,
		})

		require.Equal(t, http.StatusOK, resp.Code)

		var body domain.AuditEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, int64(42), body.Sequence)
	})

	t.Run("invalid_action", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		audit := &mockLedger{
			appendFunc: func(_ context.Context, _ *domain.AuditEntry) (*domain.AuditEntry, error) {
				return nil, fmt.Errorf("ledger.Append: %w", domain.ErrValidation)
			},
		}

		v1.RegisterAuditRecordRoutes(api, audit)

		resp := api.Post("/audit/events", map[string]any{
			"action":  "FROB",
			"success": true,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /audit
// ---------------------------------------------------------------------------

func TestListAuditEntries(t *testing.T) {
	t.Parallel()

	actor := uuid.New()

	t.Run("filters_pass_through", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		audit := &mockLedger{
			listFunc: func(_ context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
				require.NotNil(t, f.ActorID)
				assert.Equal(t, actor, *f.ActorID)
				assert.Equal(t, "patients", f.ResourceType)
				assert.True(t, f.PHIOnly)
				assert.Equal(t, 70, f.MinRiskScore)
				assert.Equal(t, int64(100), f.AfterSequence)
				assert.Equal(t, 50, f.Limit)
				require.NotNil(t, f.From)
				assert.Equal(t, 2026, f.From.Year())

				return []*domain.AuditEntry{
					{Sequence: 101, Action: domain.ActionRead},
					{Sequence: 102, Action: domain.ActionExport},
				}, nil
			},
		}

		v1.RegisterAuditQueryRoutes(api, audit, &mockVerifier{})

		resp := api.Get("/audit?actor_id=" + actor.String() +
			"&resource_type=patients&phi_only=true&min_risk_score=70" +
			"&after_sequence=100&limit=50&from=" + time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339))

		require.Equal(t, http.StatusOK, resp.Code)

		var body []*domain.AuditEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body, 2)
	})

	t.Run("bad_actor_id", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterAuditQueryRoutes(api, &mockLedger{}, &mockVerifier{})

		resp := api.Get("/audit?actor_id=not-a-uuid")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /audit/verify
// ---------------------------------------------------------------------------

func TestVerifyAuditChain(t *testing.T) {
	t.Parallel()

	t.Run("valid_chain", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		verifier := &mockVerifier{
			verifyRangeFunc: func(_ context.Context, from, to int64) (*ledger.VerificationResult, error) {
				assert.Equal(t, int64(1), from)
				assert.Equal(t, int64(500), to)
				return &ledger.VerificationResult{Valid: true, FromSequence: 1, ToSequence: 500, CheckedCount: 500}, nil
			},
		}

		v1.RegisterAuditQueryRoutes(api, &mockLedger{}, verifier)

		resp := api.Get("/audit/verify?from=1&to=500")
		require.Equal(t, http.StatusOK, resp.Code)

		var body ledger.VerificationResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Valid)
		assert.Equal(t, int64(500), body.CheckedCount)
	})

	t.Run("divergence_is_a_result_not_an_error", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		seq := int64(217)
		verifier := &mockVerifier{
			verifyRangeFunc: func(_ context.Context, _, _ int64) (*ledger.VerificationResult, error) {
				return &ledger.VerificationResult{
					Valid:              false,
					DivergenceSequence: &seq,
					Reason:             ledger.ReasonChecksumMismatch,
				}, nil
			},
		}

		v1.RegisterAuditQueryRoutes(api, &mockLedger{}, verifier)

		resp := api.Get("/audit/verify")
		require.Equal(t, http.StatusOK, resp.Code)

		var body ledger.VerificationResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.False(t, body.Valid)
		require.NotNil(t, body.DivergenceSequence)
		assert.Equal(t, int64(217), *body.DivergenceSequence)
	})
}
