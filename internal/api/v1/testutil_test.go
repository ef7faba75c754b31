package v1_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/caretrace/internal/domain"
	"github.com/clinicore/caretrace/internal/ledger"
	"github.com/clinicore/caretrace/internal/session"
)

// ---------------------------------------------------------------------------
// Mock Authenticator
// ---------------------------------------------------------------------------

type mockAuthenticator struct {
	authenticateFunc func(ctx context.Context, email, password string) (*domain.User, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	return m.authenticateFunc(ctx, email, password)
}

// ---------------------------------------------------------------------------
// Mock SessionManager
// ---------------------------------------------------------------------------

type mockSessionManager struct {
	createFunc        func(ctx context.Context, user *domain.User, meta session.Meta) (*domain.Session, error)
	validateFunc      func(ctx context.Context, token string, phiAccess bool) (*session.Context, error)
	terminateFunc     func(ctx context.Context, token string, reason domain.TerminationReason) error
	terminateByIDFunc func(ctx context.Context, id uuid.UUID, reason domain.TerminationReason) error
}

func (m *mockSessionManager) Create(ctx context.Context, user *domain.User, meta session.Meta) (*domain.Session, error) {
	return m.createFunc(ctx, user, meta)
}

func (m *mockSessionManager) Validate(ctx context.Context, token string, phiAccess bool) (*session.Context, error) {
	return m.validateFunc(ctx, token, phiAccess)
}

func (m *mockSessionManager) Terminate(ctx context.Context, token string, reason domain.TerminationReason) error {
	return m.terminateFunc(ctx, token, reason)
}

func (m *mockSessionManager) TerminateByID(ctx context.Context, id uuid.UUID, reason domain.TerminationReason) error {
	return m.terminateByIDFunc(ctx, id, reason)
}

// ---------------------------------------------------------------------------
// Mock Ledger
// ---------------------------------------------------------------------------

type mockLedger struct {
	appendFunc       func(ctx context.Context, draft *domain.AuditEntry) (*domain.AuditEntry, error)
	recordAccessFunc func(ctx context.Context, draft *domain.AuditEntry) *domain.AuditEntry
	listFunc         func(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error)
}

func (m *mockLedger) Append(ctx context.Context, draft *domain.AuditEntry) (*domain.AuditEntry, error) {
	return m.appendFunc(ctx, draft)
}

func (m *mockLedger) RecordAccess(ctx context.Context, draft *domain.AuditEntry) *domain.AuditEntry {
	if m.recordAccessFunc == nil {
		return draft
	}
	return m.recordAccessFunc(ctx, draft)
}

func (m *mockLedger) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, error) {
	return m.listFunc(ctx, f)
}

// ---------------------------------------------------------------------------
// Mock ChainVerifier
// ---------------------------------------------------------------------------

type mockVerifier struct {
	verifyRangeFunc func(ctx context.Context, fromSeq, toSeq int64) (*ledger.VerificationResult, error)
	halted          bool
}

func (m *mockVerifier) VerifyRange(ctx context.Context, fromSeq, toSeq int64) (*ledger.VerificationResult, error) {
	return m.verifyRangeFunc(ctx, fromSeq, toSeq)
}

func (m *mockVerifier) TrustHalted() bool { return m.halted }

// ---------------------------------------------------------------------------
// Mock ComplianceService
// ---------------------------------------------------------------------------

type mockComplianceService struct {
	runDailyFunc func(ctx context.Context, date time.Time) (int, error)
	reportFunc   func(ctx context.Context, date time.Time) ([]*domain.ComplianceSummary, error)
}

func (m *mockComplianceService) RunDaily(ctx context.Context, date time.Time) (int, error) {
	return m.runDailyFunc(ctx, date)
}

func (m *mockComplianceService) Report(ctx context.Context, date time.Time) ([]*domain.ComplianceSummary, error) {
	return m.reportFunc(ctx, date)
}
