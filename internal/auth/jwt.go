package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Operator roles allowed to use the audit/compliance tooling endpoints.
const (
	RoleComplianceOfficer = "compliance_officer"
	RoleSecurityAdmin     = "security_admin"
)

// OperatorClaims is the JWT payload for compliance-tooling bearer tokens.
// Clinical users never receive JWTs; they carry opaque session tokens.
type OperatorClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// OperatorRole reports whether role names a recognized operator role.
func OperatorRole(role string) bool {
	return role == RoleComplianceOfficer || role == RoleSecurityAdmin
}

// IssueOperatorToken creates a signed HS256 token for an operator.
func IssueOperatorToken(secret string, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	if !OperatorRole(role) {
		return "", fmt.Errorf("auth.IssueOperatorToken: unknown operator role %q", role)
	}

	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "caretrace",
		},
		UserID: userID.String(),
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueOperatorToken: %w", err)
	}

	return signed, nil
}

// ValidateOperatorToken parses and validates an operator JWT.
func ValidateOperatorToken(secret, tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateOperatorToken: %w", ErrInvalidToken)
	}

	if !token.Valid || !OperatorRole(claims.Role) {
		return nil, fmt.Errorf("auth.ValidateOperatorToken: %w", ErrInvalidToken)
	}

	return claims, nil
}
