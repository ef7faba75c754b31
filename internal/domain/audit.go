package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action classifies an access event recorded in the audit ledger.
type Action string

const (
	ActionCreate          Action = "CREATE"
	ActionRead            Action = "READ"
	ActionUpdate          Action = "UPDATE"
	ActionDelete          Action = "DELETE"
	ActionLogin           Action = "LOGIN"
	ActionLogout          Action = "LOGOUT"
	ActionDecrypt         Action = "DECRYPT"
	ActionExport          Action = "EXPORT"
	ActionPrint           Action = "PRINT"
	ActionBulkRead        Action = "BULK_READ"
	ActionBulkUpdate      Action = "BULK_UPDATE"
	ActionBulkDelete      Action = "BULK_DELETE"
	ActionEmergencyAccess Action = "EMERGENCY_ACCESS"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionLogin, ActionLogout, ActionDecrypt, ActionExport, ActionPrint,
		ActionBulkRead, ActionBulkUpdate, ActionBulkDelete, ActionEmergencyAccess:
		return true
	}
	return false
}

// Bulk reports whether a touches multiple resources in one event.
func (a Action) Bulk() bool {
	return a == ActionBulkRead || a == ActionBulkUpdate || a == ActionBulkDelete
}

// DefaultRiskScore returns the baseline risk for an action class, used when
// the emitting caller does not supply a score of its own.
func DefaultRiskScore(a Action) int {
	switch a {
	case ActionDelete, ActionBulkDelete, ActionEmergencyAccess:
		return 90
	case ActionExport, ActionPrint, ActionBulkRead:
		return 70
	case ActionUpdate, ActionCreate, ActionBulkUpdate:
		return 50
	case ActionRead, ActionLogin, ActionLogout:
		return 30
	default:
		return 40
	}
}

// Compliance flag tags attached to ledger entries.
const (
	FlagEmergencyAccess = "EMERGENCY_ACCESS"
	FlagBulkOperation   = "BULK_OPERATION"
	FlagHighRisk        = "HIGH_RISK"
)

// highRiskThreshold is the risk score above which an entry is tagged HIGH_RISK.
const highRiskThreshold = 80

// DeriveComplianceFlags computes the flag set for an entry. The order is
// fixed so the flags serialize deterministically into the checksum.
func DeriveComplianceFlags(action Action, resourceCount, riskScore int) []string {
	var flags []string
	if action == ActionEmergencyAccess {
		flags = append(flags, FlagEmergencyAccess)
	}
	if action.Bulk() || resourceCount > 1 {
		flags = append(flags, FlagBulkOperation)
	}
	if riskScore > highRiskThreshold {
		flags = append(flags, FlagHighRisk)
	}
	return flags
}

// GenesisChecksum is the previous-checksum value of the first ledger entry.
const GenesisChecksum = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditEntry is one immutable record in the hash-chained access ledger.
// Entries are never updated or deleted inside the retention window; the only
// later mutation is the Archived flag flipped during retention rollover.
// Corrections are new compensating entries referencing the original via
// ResourceID.
type AuditEntry struct {
	Sequence     int64      `json:"sequence"`
	ActorID      *uuid.UUID `json:"actor_id,omitempty"` // nil for system events
	Action       Action     `json:"action"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	ResourceIDs  []string   `json:"resource_ids,omitempty"` // bulk actions
	PHIAccessed  bool       `json:"phi_accessed"`

	// Request context.
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Method    string    `json:"method,omitempty"`

	OccurredAt  time.Time `json:"occurred_at"`
	Success     bool      `json:"success"`
	ErrorDetail string    `json:"error_detail,omitempty"`

	// Before/after values for modifications. PHI-bearing values are replaced
	// with the redaction sentinel before they reach the ledger.
	BeforeState map[string]string `json:"before_state,omitempty"`
	AfterState  map[string]string `json:"after_state,omitempty"`

	// RiskScore is nil on a draft when the caller wants the action default;
	// stored entries always carry a resolved score, explicit zero included.
	RiskScore       *int     `json:"risk_score"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`

	PreviousChecksum string `json:"previous_checksum"`
	Checksum         string `json:"checksum"`

	Archived bool `json:"archived,omitempty"`
}

// canonicalTimeLayout pins timestamps at microsecond precision, matching what
// TIMESTAMPTZ stores, so a checksum recomputed from a read-back row equals the
// one computed at append time.
const canonicalTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// CanonicalString serializes every immutable field of e in a fixed order,
// pipe-separated, with absent fields as empty strings. Map fields are sorted
// by key so the output is deterministic. Checksum and Archived are excluded:
// the former is derived from this string, the latter is mutable.
func (e *AuditEntry) CanonicalString() string {
	var b strings.Builder

	b.WriteString(strconv.FormatInt(e.Sequence, 10))
	b.WriteByte('|')
	if e.ActorID != nil {
		b.WriteString(e.ActorID.String())
	}
	b.WriteByte('|')
	b.WriteString(string(e.Action))
	b.WriteByte('|')
	b.WriteString(e.ResourceType)
	b.WriteByte('|')
	b.WriteString(e.ResourceID)
	b.WriteByte('|')
	b.WriteString(strings.Join(e.ResourceIDs, ","))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(e.PHIAccessed))
	b.WriteByte('|')
	b.WriteString(e.IPAddress)
	b.WriteByte('|')
	b.WriteString(e.UserAgent)
	b.WriteByte('|')
	if e.SessionID != uuid.Nil {
		b.WriteString(e.SessionID.String())
	}
	b.WriteByte('|')
	b.WriteString(e.RequestID)
	b.WriteByte('|')
	b.WriteString(e.Endpoint)
	b.WriteByte('|')
	b.WriteString(e.Method)
	b.WriteByte('|')
	if !e.OccurredAt.IsZero() {
		b.WriteString(e.OccurredAt.UTC().Format(canonicalTimeLayout))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(e.Success))
	b.WriteByte('|')
	b.WriteString(e.ErrorDetail)
	b.WriteByte('|')
	b.WriteString(canonicalState(e.BeforeState))
	b.WriteByte('|')
	b.WriteString(canonicalState(e.AfterState))
	b.WriteByte('|')
	if e.RiskScore != nil {
		b.WriteString(strconv.Itoa(*e.RiskScore))
	}
	b.WriteByte('|')
	b.WriteString(strings.Join(e.ComplianceFlags, ","))
	b.WriteByte('|')
	b.WriteString(e.PreviousChecksum)

	return b.String()
}

func canonicalState(state map[string]string) string {
	if len(state) == 0 {
		return ""
	}
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+state[k])
	}
	return strings.Join(pairs, ";")
}

// ComputeChecksum returns the hex SHA-256 of the entry's canonical string.
// It is a pure function of the entry's immutable fields, including
// PreviousChecksum, which is what links the chain.
func ComputeChecksum(e *AuditEntry) string {
	sum := sha256.Sum256([]byte(e.CanonicalString()))
	return hex.EncodeToString(sum[:])
}

// AuditFilter narrows ledger reads. Zero values mean "no constraint".
type AuditFilter struct {
	ActorID       *uuid.UUID
	ResourceType  string
	ResourceID    string
	PHIOnly       bool
	From          *time.Time
	To            *time.Time
	MinRiskScore  int
	AfterSequence int64 // exclusive cursor
	Limit         int
}

// AuditRepository is the append-only ledger store. AppendChained is the single
// global sequencing point: it assigns Sequence and PreviousChecksum and
// computes Checksum atomically, so concurrent appends can never share a
// previous checksum or leave a gap.
type AuditRepository interface {
	AppendChained(ctx context.Context, e *AuditEntry) error
	GetBySequence(ctx context.Context, seq int64) (*AuditEntry, error)
	List(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
	ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]*AuditEntry, error)
	MaxSequence(ctx context.Context) (int64, error)
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
