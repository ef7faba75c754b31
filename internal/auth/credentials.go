package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/clinicore/caretrace/internal/domain"
)

// ErrInvalidCredentials is returned when email/password verification fails.
// The caller cannot distinguish unknown user from wrong password.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// argon2id parameters following OWASP recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Verifier checks clinical user credentials at session creation. The staff
// directory itself is owned by the EMR upstream; this only verifies the
// locally stored argon2id hash.
type Verifier struct {
	users domain.UserRepository
}

// NewVerifier creates a credential verifier backed by the user repository.
func NewVerifier(users domain.UserRepository) *Verifier {
	return &Verifier{users: users}
}

// Authenticate verifies email/password and returns the user on success.
func (v *Verifier) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("auth.Authenticate: %w", ErrInvalidCredentials)
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return nil, fmt.Errorf("auth.Authenticate: %w", ErrInvalidCredentials)
	}

	return user, nil
}

// HashPassword generates an argon2id hash with a random salt.
// Format: hex(salt) + "$" + hex(hash)
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth.HashPassword: generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

// VerifyPassword checks a password against an argon2id hash in constant time.
func VerifyPassword(password, encoded string) bool {
	saltHex, hashHex, ok := strings.Cut(encoded, "$")
	if !ok || saltHex == "" || hashHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}

	expected, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(computed, expected) == 1
}
