package v1

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/ledger"
	"github.com/clinicore/caretrace/internal/session"
)

// Authenticator abstracts credential verification for handler testing.
// *auth.Verifier satisfies this interface.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
}

// SessionManager abstracts session lifecycle operations for handler testing.
// *session.Manager satisfies this interface.
type SessionManager interface {
	Create(ctx context.Context, user *domain.User, meta session.Meta) (*domain.Session, error)
	Validate(ctx context.Context, token string, phiAccess bool) (*session.Context, error)
	Terminate(ctx context.Context, token string, reason domain.TerminationReason) error
	TerminateByID(ctx context.Context, id uuid.UUID, reason domain.TerminationReason) error
}

// Ledger abstracts the audit ledger service for handler testing.
// *ledger.Service satisfies this interface.
type Ledger interface {
	Append(ctx context.Context, draft *domain.AuditEntry) (*domain.AuditEntry, error)
	RecordAccess(ctx context.Context, draft *domain.AuditEntry) *domain.AuditEntry
	List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error)
}

// ChainVerifier abstracts integrity verification for handler testing.
// *ledger.Verifier satisfies this interface.
type ChainVerifier interface {
	VerifyRange(ctx context.Context, fromSeq, toSeq int64) (*ledger.VerificationResult, error)
	TrustHalted() bool
}

// ComplianceService abstracts the daily rollup for handler testing.
// *compliance.Aggregator satisfies this interface.
type ComplianceService interface {
	RunDaily(ctx context.Context, date time.Time) (int, error)
	Report(ctx context.Context, date time.Time) ([]*domain.ComplianceSummary, error)
}
