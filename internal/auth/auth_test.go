package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/caretrace/internal/auth"
	"github.com/clinicore/caretrace/internal/domain"
)

type mockUserRepo struct {
	getByEmailFunc func(ctx context.Context, email string) (*domain.User, error)
}

func (m *mockUserRepo) Create(context.Context, *domain.User) error { return nil }
func (m *mockUserRepo) GetByID(context.Context, uuid.UUID) (*domain.User, error) {
	return nil, domain.ErrNotFound
}
func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return m.getByEmailFunc(ctx, email)
}
func (m *mockUserRepo) RecordSessionDuration(context.Context, uuid.UUID, float64) error { return nil }

// ---------------------------------------------------------------------------
// Password hashing
// ---------------------------------------------------------------------------

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.Contains(t, hash, "$")

	assert.True(t, auth.VerifyPassword("correct horse battery staple", hash))
	assert.False(t, auth.VerifyPassword("wrong password", hash))
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	t.Parallel()

	tests := []string{"", "nodollar", "$onlyhash", "salt$", "zz$zz"}
	for _, encoded := range tests {
		assert.False(t, auth.VerifyPassword("anything", encoded), encoded)
	}
}

func TestVerifier_Authenticate(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)

	userID := uuid.New()
	repo := &mockUserRepo{
		getByEmailFunc: func(_ context.Context, email string) (*domain.User, error) {
			if email != "dr.okafor@clinic.example" {
				return nil, domain.ErrNotFound
			}
			return &domain.User{ID: userID, Email: email, Role: "physician", PasswordHash: hash}, nil
		},
	}
	v := auth.NewVerifier(repo)

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		user, authErr := v.Authenticate(context.Background(), "dr.okafor@clinic.example", "s3cret")
		require.NoError(t, authErr)
		assert.Equal(t, userID, user.ID)
	})

	t.Run("wrong_password", func(t *testing.T) {
		t.Parallel()

		_, authErr := v.Authenticate(context.Background(), "dr.okafor@clinic.example", "guess")
		assert.ErrorIs(t, authErr, auth.ErrInvalidCredentials)
	})

	t.Run("unknown_user", func(t *testing.T) {
		t.Parallel()

		_, authErr := v.Authenticate(context.Background(), "nobody@clinic.example", "s3cret")
		assert.ErrorIs(t, authErr, auth.ErrInvalidCredentials)
	})
}

// ---------------------------------------------------------------------------
// Operator JWTs
// ---------------------------------------------------------------------------

func TestOperatorToken_RoundTrip(t *testing.T) {
	t.Parallel()

	secret := "0123456789abcdef0123456789abcdef"
	userID := uuid.New()

	token, err := auth.IssueOperatorToken(secret, userID, auth.RoleComplianceOfficer, time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateOperatorToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, auth.RoleComplianceOfficer, claims.Role)
}

func TestOperatorToken_WrongSecret(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueOperatorToken("0123456789abcdef0123456789abcdef", uuid.New(), auth.RoleSecurityAdmin, time.Hour)
	require.NoError(t, err)

	_, err = auth.ValidateOperatorToken("another-secret-another-secret-xx", token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestOperatorToken_Expired(t *testing.T) {
	t.Parallel()

	secret := "0123456789abcdef0123456789abcdef"
	token, err := auth.IssueOperatorToken(secret, uuid.New(), auth.RoleSecurityAdmin, -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateOperatorToken(secret, token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestIssueOperatorToken_RejectsUnknownRole(t *testing.T) {
	t.Parallel()

	_, err := auth.IssueOperatorToken("0123456789abcdef0123456789abcdef", uuid.New(), "physician", time.Hour)
	assert.Error(t, err)
}
