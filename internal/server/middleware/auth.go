package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicore/caretrace/internal/auth"
	"github.com/clinicore/caretrace/internal/session"
)

// SessionValidator is the slice of the session manager the middleware needs.
type SessionValidator interface {
	Validate(ctx context.Context, token string, phiAccess bool) (*session.Context, error)
}

// Auth authenticates requests two ways: an opaque session token in
// X-Session-Token (clinical clients) or an operator JWT as a Bearer token
// (compliance tooling). Session validation counts as session activity; the
// X-PHI-Access header marks the request as touching PHI so the activity
// counters stay honest.
func Auth(jwtSecret string, sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := r.Header.Get("X-Session-Token"); token != "" {
				phi := strings.EqualFold(r.Header.Get("X-PHI-Access"), "true")
				sctx, err := sessions.Validate(r.Context(), token, phi)
				if err != nil {
					http.Error(w, `{"title":"Unauthorized","status":401,"detail":"invalid or expired session"}`, http.StatusUnauthorized)
					return
				}

				ctx := r.Context()
				ctx = context.WithValue(ctx, ContextKeyUserID, sctx.UserID)
				ctx = context.WithValue(ctx, ContextKeyUserRole, sctx.Role)
				ctx = context.WithValue(ctx, ContextKeySessionID, sctx.SessionID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if tok := extractBearer(r); tok != "" {
				if ctx, ok := authenticateOperator(r.Context(), tok, jwtSecret); ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

// RequireOperator gates an endpoint to operator roles. It must run after Auth.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := RoleFromContext(r.Context())
		if !ok || !auth.OperatorRole(role) {
			http.Error(w, `{"title":"Forbidden","status":403,"detail":"operator role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func authenticateOperator(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims, err := auth.ValidateOperatorToken(secret, tokenStr)
	if err != nil {
		return ctx, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyUserID, userID)
	ctx = context.WithValue(ctx, ContextKeyUserRole, claims.Role)
	return ctx, true
}
