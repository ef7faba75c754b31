package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/ledger"
	"github.com/clinicore/caretrace/internal/server/middleware"
)

type RecordEventInput struct {
	ForwardedFor string `header:"X-Forwarded-For" doc:"Client IP as set by the edge proxy"`
	UserAgent    string `header:"User-Agent" doc:"Client user agent"`
	RequestID    string `header:"X-Request-ID" doc:"Upstream request correlation ID"`
	Body         struct {
		Action       string            `json:"action" minLength:"1" doc:"Audit action, e.g. READ or EXPORT"`
		ResourceType string            `json:"resource_type,omitempty" doc:"Resource table, e.g. patients"`
		ResourceID   string            `json:"resource_id,omitempty" doc:"Resource identifier"`
		ResourceIDs  []string          `json:"resource_ids,omitempty" doc:"Resource identifiers for bulk actions"`
		PHIAccessed  bool              `json:"phi_accessed,omitempty" doc:"Whether PHI was touched"`
		Endpoint     string            `json:"endpoint,omitempty" doc:"Upstream endpoint that performed the access"`
		Method       string            `json:"method,omitempty" doc:"Upstream HTTP method"`
		Success      bool              `json:"success" doc:"Whether the upstream operation succeeded"`
		ErrorDetail  string            `json:"error_detail,omitempty" doc:"Failure detail when success is false"`
		BeforeState  map[string]string `json:"before_state,omitempty" doc:"Field values before a modification"`
		AfterState   map[string]string `json:"after_state,omitempty" doc:"Field values after a modification"`
		RiskScore    *int              `json:"risk_score,omitempty" minimum:"0" maximum:"100" doc:"Caller-assessed risk, omit for the action default"`
	}
}

type RecordEventOutput struct {
	Body *domain.AuditEntry
}

type ListAuditInput struct {
	ActorID       string `query:"actor_id" doc:"Filter by actor UUID"`
	ResourceType  string `query:"resource_type" doc:"Filter by resource type"`
	ResourceID    string `query:"resource_id" doc:"Filter by resource ID"`
	PHIOnly       bool   `query:"phi_only" doc:"Only PHI-touching entries"`
	MinRiskScore  int    `query:"min_risk_score" doc:"Minimum risk score"`
	From          string `query:"from" doc:"RFC3339 lower bound on occurrence time"`
	To            string `query:"to" doc:"RFC3339 upper bound (exclusive)"`
	AfterSequence int64  `query:"after_sequence" doc:"Exclusive sequence cursor for paging"`
	Limit         int    `query:"limit" maximum:"1000" doc:"Page size, default 200"`
}

type ListAuditOutput struct {
	Body []*domain.AuditEntry
}

type VerifyChainInput struct {
	From int64 `query:"from" minimum:"0" doc:"First sequence to verify, default 1"`
	To   int64 `query:"to" minimum:"0" doc:"Last sequence to verify, 0 for chain tail"`
}

type VerifyChainOutput struct {
	Body *ledger.VerificationResult
}

// RegisterAuditRecordRoutes registers the event intake endpoint, mounted for
// any authenticated clinical caller.
func RegisterAuditRecordRoutes(api huma.API, audit Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "record-audit-event",
		Method:      http.MethodPost,
		Path:        "/audit/events",
		Summary:     "Record an access event on the ledger",
		Description: "Used by clinical services that perform PHI access out of process. The entry is chained and checksummed server-side.",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, input *RecordEventInput) (*RecordEventOutput, error) {
		draft := &domain.AuditEntry{
			Action:       domain.Action(input.Body.Action),
			ResourceType: input.Body.ResourceType,
			ResourceID:   input.Body.ResourceID,
			ResourceIDs:  input.Body.ResourceIDs,
			PHIAccessed:  input.Body.PHIAccessed,
			IPAddress:    input.ForwardedFor,
			UserAgent:    input.UserAgent,
			RequestID:    input.RequestID,
			Endpoint:     input.Body.Endpoint,
			Method:       input.Body.Method,
			Success:      input.Body.Success,
			ErrorDetail:  input.Body.ErrorDetail,
			BeforeState:  input.Body.BeforeState,
			AfterState:   input.Body.AfterState,
			RiskScore:    input.Body.RiskScore,
		}

		if userID, ok := middleware.UserIDFromContext(ctx); ok {
			draft.ActorID = &userID
		}
		if sessionID, ok := middleware.SessionIDFromContext(ctx); ok {
			draft.SessionID = sessionID
		}

		entry, err := audit.Append(ctx, draft)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return nil, huma.Error422UnprocessableEntity("invalid audit event", err)
			}
			return nil, huma.Error500InternalServerError("failed to record event", err)
		}

		return &RecordEventOutput{Body: entry}, nil
	})
}

// RegisterAuditQueryRoutes registers the ledger read endpoints, mounted behind
// the operator gate.
func RegisterAuditQueryRoutes(api huma.API, audit Ledger, verifier ChainVerifier) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-entries",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Query the audit ledger",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, input *ListAuditInput) (*ListAuditOutput, error) {
		f := domain.AuditFilter{
			ResourceType:  input.ResourceType,
			ResourceID:    input.ResourceID,
			PHIOnly:       input.PHIOnly,
			MinRiskScore:  input.MinRiskScore,
			AfterSequence: input.AfterSequence,
			Limit:         input.Limit,
		}

		if input.ActorID != "" {
			id, err := uuid.Parse(input.ActorID)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("invalid actor_id")
			}
			f.ActorID = &id
		}
		if input.From != "" {
			ts, err := time.Parse(time.RFC3339, input.From)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("invalid from timestamp")
			}
			f.From = &ts
		}
		if input.To != "" {
			ts, err := time.Parse(time.RFC3339, input.To)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("invalid to timestamp")
			}
			f.To = &ts
		}

		entries, err := audit.List(ctx, f)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list audit entries", err)
		}

		return &ListAuditOutput{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-audit-chain",
		Method:      http.MethodGet,
		Path:        "/audit/verify",
		Summary:     "Verify hash-chain integrity over a sequence range",
		Description: "Detective control: a divergence is reported and halts summary generation, never repaired in place.",
		Tags:        []string{"Audit"},
	}, func(ctx context.Context, input *VerifyChainInput) (*VerifyChainOutput, error) {
		result, err := verifier.VerifyRange(ctx, input.From, input.To)
		if err != nil {
			return nil, huma.Error500InternalServerError("verification failed", err)
		}

		return &VerifyChainOutput{Body: result}, nil
	})
}
