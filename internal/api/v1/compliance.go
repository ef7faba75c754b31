package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/clinicore/caretrace/internal/domain"
)

type ComplianceSummaryInput struct {
	Date string `query:"date" required:"true" doc:"UTC day to report, YYYY-MM-DD"`
}

type ComplianceSummaryOutput struct {
	Body []*domain.ComplianceSummary
}

type RunComplianceInput struct {
	Body struct {
		Date string `json:"date" minLength:"10" maxLength:"10" doc:"UTC day to aggregate, YYYY-MM-DD"`
	}
}

type RunComplianceOutput struct {
	Body struct {
		Rows int `json:"rows"`
	}
}

func RegisterComplianceRoutes(api huma.API, svc ComplianceService) {
	huma.Register(api, huma.Operation{
		OperationID: "compliance-summary",
		Method:      http.MethodGet,
		Path:        "/compliance/summary",
		Summary:     "Fetch the stored daily access rollup",
		Tags:        []string{"Compliance"},
	}, func(ctx context.Context, input *ComplianceSummaryInput) (*ComplianceSummaryOutput, error) {
		date, err := time.Parse("2006-01-02", input.Date)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("date must be YYYY-MM-DD")
		}

		rows, err := svc.Report(ctx, date)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load summary", err)
		}

		return &ComplianceSummaryOutput{Body: rows}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-compliance-aggregation",
		Method:      http.MethodPost,
		Path:        "/compliance/run",
		Summary:     "Re-run the daily aggregation for a day",
		Description: "Idempotent: summary rows for the day are replaced, not duplicated.",
		Tags:        []string{"Compliance"},
	}, func(ctx context.Context, input *RunComplianceInput) (*RunComplianceOutput, error) {
		date, err := time.Parse("2006-01-02", input.Body.Date)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("date must be YYYY-MM-DD")
		}

		rows, err := svc.RunDaily(ctx, date)
		if err != nil {
			if errors.Is(err, domain.ErrUnavailable) {
				return nil, huma.Error409Conflict("ledger trust is halted pending integrity review")
			}
			return nil, huma.Error500InternalServerError("aggregation failed", err)
		}

		out := &RunComplianceOutput{}
		out.Body.Rows = rows
		return out, nil
	})
}
