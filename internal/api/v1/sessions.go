package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/clinicore/caretrace/internal/auth"
	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/session"
)

type CreateSessionInput struct {
	UserAgent    string `header:"User-Agent" doc:"Client user agent"`
	ForwardedFor string `header:"X-Forwarded-For" doc:"Client IP as set by the edge proxy"`
	RequestID    string `header:"X-Request-ID" doc:"Upstream request correlation ID"`
	Body         struct {
		Email    string `json:"email" minLength:"3" maxLength:"255" doc:"User email"`
		Password string `json:"password" minLength:"1" maxLength:"128" doc:"Password"` //nolint:gosec // G117: login credential DTO
	}
}

type CreateSessionOutput struct {
	Body struct {
		SessionID        uuid.UUID `json:"session_id"`
		Token            string    `json:"token"` //nolint:gosec // G117: session token DTO
		ExpiresAt        time.Time `json:"expires_at"`
		AbsoluteDeadline time.Time `json:"absolute_deadline"`
	}
}

type ValidateSessionInput struct {
	Body struct {
		Token     string `json:"token" minLength:"1" doc:"Session token"` //nolint:gosec // G117: session token DTO
		PHIAccess bool   `json:"phi_access,omitempty" doc:"Whether the guarded operation touches PHI"`
	}
}

type ValidateSessionOutput struct {
	Body *session.Context
}

type LogoutInput struct {
	Token string `header:"X-Session-Token" required:"true" doc:"Session token"`
}

type TerminateSessionInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Reason string `json:"reason" minLength:"1" doc:"Termination reason (SECURITY or ADMIN)"`
	}
}

func RegisterSessionRoutes(api huma.API, verifier Authenticator, sessions SessionManager, audit Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Authenticate and open a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		user, err := verifier.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				// Failed logins are ledgered too; no actor since none proved
				// their identity.
				audit.RecordAccess(ctx, &domain.AuditEntry{
					Action:      domain.ActionLogin,
					IPAddress:   input.ForwardedFor,
					UserAgent:   input.UserAgent,
					RequestID:   input.RequestID,
					Success:     false,
					ErrorDetail: "invalid credentials",
				})
				return nil, huma.Error401Unauthorized("invalid email or password")
			}
			return nil, huma.Error500InternalServerError("login failed", err)
		}

		s, err := sessions.Create(ctx, user, session.Meta{
			IPAddress: input.ForwardedFor,
			UserAgent: input.UserAgent,
			RequestID: input.RequestID,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to create session", err)
		}

		out := &CreateSessionOutput{}
		out.Body.SessionID = s.ID
		out.Body.Token = s.Token
		out.Body.ExpiresAt = s.ExpiresAt
		out.Body.AbsoluteDeadline = s.AbsoluteDeadline
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-session",
		Method:      http.MethodPost,
		Path:        "/sessions/validate",
		Summary:     "Validate a session token and record activity",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ValidateSessionInput) (*ValidateSessionOutput, error) {
		sctx, err := sessions.Validate(ctx, input.Body.Token, input.Body.PHIAccess)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrSessionInvalid) {
				return nil, huma.Error401Unauthorized("invalid or expired session")
			}
			return nil, huma.Error500InternalServerError("session validation failed", err)
		}

		return &ValidateSessionOutput{Body: sctx}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/sessions/logout",
		Summary:     "End the current session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *LogoutInput) (*struct{}, error) {
		err := sessions.Terminate(ctx, input.Token, domain.TerminationLogout)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("logout failed", err)
		}

		return &struct{}{}, nil
	})

}

// RegisterSessionAdminRoutes registers the forced-termination endpoint. It is
// mounted behind the operator gate, separately from the clinical session
// routes.
func RegisterSessionAdminRoutes(api huma.API, sessions SessionManager) {
	huma.Register(api, huma.Operation{
		OperationID: "terminate-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/terminate",
		Summary:     "Forcibly terminate a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *TerminateSessionInput) (*struct{}, error) {
		reason := domain.TerminationReason(input.Body.Reason)
		if reason != domain.TerminationSecurity && reason != domain.TerminationAdmin {
			return nil, huma.Error422UnprocessableEntity("reason must be SECURITY or ADMIN")
		}

		err := sessions.TerminateByID(ctx, input.ID, reason)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("termination failed", err)
		}

		return &struct{}{}, nil
	})
}
