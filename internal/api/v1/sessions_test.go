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
	"github.com/clinicore/caretrace/internal/auth"
	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/session"
)

// ---------------------------------------------------------------------------
// POST /sessions
// ---------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	t.Parallel()

	user := &domain.User{ID: uuid.New(), Email: "dr.lindqvist@clinic.example", Role: "physician"}
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		verifier := &mockAuthenticator{
			authenticateFunc: func(_ context.Context, email, password string) (*domain.User, error) {
				require.Equal(t, "dr.lindqvist@clinic.example", email)
				require.Equal(t, "correct horse", password)
				return user, nil
			},
		}
		fixture := &domain.Session{
			ID:               uuid.New(),
			UserID:           user.ID,
			Token:            "cts_deadbeef",
			ExpiresAt:        now.Add(15 * time.Minute),
			AbsoluteDeadline: now.Add(12 * time.Hour),
		}
		sessions := &mockSessionManager{
			createFunc: func(_ context.Context, u *domain.User, meta session.Meta) (*domain.Session, error) {
				assert.Equal(t, user.ID, u.ID)
				assert.Equal(t, "emr-client/4.1", meta.UserAgent)
				return fixture, nil
			},
		}

		v1.RegisterSessionRoutes(api, verifier, sessions, &mockLedger{})

		resp := api.Post("/sessions",
			"User-Agent: emr-client/4.1",
			map[string]any{
				"email":    "dr.lindqvist@clinic.example",
				"password": "correct horse",
			})

		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			SessionID        uuid.UUID `json:"session_id"`
			Token            string    `json:"token"`
			ExpiresAt        time.Time `json:"expires_at"`
			AbsoluteDeadline time.Time `json:"absolute_deadline"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, fixture.ID, body.SessionID)
		assert.Equal(t, "cts_deadbeef", body.Token)
		assert.Equal(t, fixture.AbsoluteDeadline, body.AbsoluteDeadline.UTC())
	})

	t.Run("bad_credentials_are_ledgered", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		verifier := &mockAuthenticator{
			authenticateFunc: func(_ context.Context, _, _ string) (*domain.User, error) {
				return nil, fmt.Errorf("auth.Authenticate: %w", auth.ErrInvalidCredentials)
			},
		}

		var recorded *domain.AuditEntry
		audit := &mockLedger{
			recordAccessFunc: func(_ context.Context, draft *domain.AuditEntry) *domain.AuditEntry {
				recorded = draft
				return draft
			},
		}

		v1.RegisterSessionRoutes(api, verifier, &mockSessionManager{}, audit)

		resp := api.Post("/sessions", map[string]any{
			"email":    "nobody@clinic.example",
			"password": "wrong",
		})

		assert.Equal(t, http.StatusUnauthorized, resp.Code)
		require.NotNil(t, recorded)
		assert.Equal(t, domain.ActionLogin, recorded.Action)
		assert.False(t, recorded.Success)
		assert.Nil(t, recorded.ActorID)
	})
}

// ---------------------------------------------------------------------------
// POST /sessions/validate
// ---------------------------------------------------------------------------

func TestValidateSession(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		sctx := &session.Context{SessionID: uuid.New(), UserID: uuid.New(), Role: "nurse"}
		sessions := &mockSessionManager{
			validateFunc: func(_ context.Context, token string, phiAccess bool) (*session.Context, error) {
				require.Equal(t, "cts_abc", token)
				require.True(t, phiAccess)
				return sctx, nil
			},
		}

		v1.RegisterSessionRoutes(api, &mockAuthenticator{}, sessions, &mockLedger{})

		resp := api.Post("/sessions/validate", map[string]any{
			"token":      "cts_abc",
			"phi_access": true,
		})

		require.Equal(t, http.StatusOK, resp.Code)

		var body session.Context
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, sctx.UserID, body.UserID)
		assert.Equal(t, "nurse", body.Role)
	})

	t.Run("expired_session", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		sessions := &mockSessionManager{
			validateFunc: func(_ context.Context, _ string, _ bool) (*session.Context, error) {
				return nil, fmt.Errorf("session.Validate: %w", domain.ErrSessionInvalid)
			},
		}

		v1.RegisterSessionRoutes(api, &mockAuthenticator{}, sessions, &mockLedger{})

		resp := api.Post("/sessions/validate", map[string]any{"token": "cts_old"})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("unknown_token", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		sessions := &mockSessionManager{
			validateFunc: func(_ context.Context, _ string, _ bool) (*session.Context, error) {
				return nil, fmt.Errorf("session.Validate: %w", domain.ErrNotFound)
			},
		}

		v1.RegisterSessionRoutes(api, &mockAuthenticator{}, sessions, &mockLedger{})

		resp := api.Post("/sessions/validate", map[string]any{"token": "cts_missing"})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// POST /sessions/logout, POST /sessions/{id}/terminate
// ---------------------------------------------------------------------------

func TestLogout(t *testing.T) {
	t.Parallel()

	_, api := humatest.New(t)
	var gotReason domain.TerminationReason
	sessions := &mockSessionManager{
		terminateFunc: func(_ context.Context, token string, reason domain.TerminationReason) error {
			require.Equal(t, "cts_abc", token)
			gotReason = reason
			return nil
		},
	}

	v1.RegisterSessionRoutes(api, &mockAuthenticator{}, sessions, &mockLedger{})

	resp := api.Post("/sessions/logout", "X-Session-Token: cts_abc")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, domain.TerminationLogout, gotReason)
}

func TestTerminateSession(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	t.Run("security_reason", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		sessions := &mockSessionManager{
			terminateByIDFunc: func(_ context.Context, gotID uuid.UUID, reason domain.TerminationReason) error {
				require.Equal(t, id, gotID)
				require.Equal(t, domain.TerminationSecurity, reason)
				return nil
			},
		}

		v1.RegisterSessionAdminRoutes(api, sessions)

		resp := api.Post("/sessions/"+id.String()+"/terminate", map[string]any{"reason": "SECURITY"})
		assert.Equal(t, http.StatusNoContent, resp.Code)
	})

	t.Run("rejects_non_admin_reasons", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterSessionAdminRoutes(api, &mockSessionManager{})

		resp := api.Post("/sessions/"+id.String()+"/terminate", map[string]any{"reason": "LOGOUT"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("not_found", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		sessions := &mockSessionManager{
			terminateByIDFunc: func(_ context.Context, _ uuid.UUID, _ domain.TerminationReason) error {
				return fmt.Errorf("session.TerminateByID: %w", domain.ErrNotFound)
			},
		}

		v1.RegisterSessionAdminRoutes(api, sessions)

		resp := api.Post("/sessions/"+uuid.NewString()+"/terminate", map[string]any{"reason": "ADMIN"})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
