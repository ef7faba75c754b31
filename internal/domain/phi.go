package domain

// PHI field classification. This is a static, versioned table mapping each
// resource type to its fields and whether each field carries Protected
// Health Information. It replaces runtime column introspection: the set of
// fields treated as PHI is fixed at build time and auditable in review.

// PHIClassificationVersion identifies the classification table revision
// recorded with compliance reports.
const PHIClassificationVersion = "2026-08"

// RedactionSentinel replaces PHI field values before they are written to the
// ledger. Clear-text PHI never reaches audit storage.
const RedactionSentinel = "[REDACTED:PHI]"

// FieldClass marks one field of a resource type.
type FieldClass struct {
	Field string
	IsPHI bool
}

// phiFields lists, per resource type, the fields in storage order. Fields not
// listed for a known type are treated as PHI; unknown resource types have
// every field treated as PHI. The safe direction for a misclassification is
// over-redaction.
var phiFields = map[string][]FieldClass{
	"patients": {
		{Field: "mrn", IsPHI: true},
		{Field: "first_name", IsPHI: true},
		{Field: "last_name", IsPHI: true},
		{Field: "date_of_birth", IsPHI: true},
		{Field: "ssn", IsPHI: true},
		{Field: "address_line", IsPHI: true},
		{Field: "phone", IsPHI: true},
		{Field: "email", IsPHI: true},
		{Field: "status", IsPHI: false},
		{Field: "primary_provider_id", IsPHI: false},
	},
	"encounters": {
		{Field: "patient_id", IsPHI: false},
		{Field: "chief_complaint", IsPHI: true},
		{Field: "notes", IsPHI: true},
		{Field: "diagnosis_codes", IsPHI: true},
		{Field: "status", IsPHI: false},
		{Field: "encounter_type", IsPHI: false},
		{Field: "provider_id", IsPHI: false},
	},
	"prescriptions": {
		{Field: "patient_id", IsPHI: false},
		{Field: "medication", IsPHI: true},
		{Field: "dosage", IsPHI: true},
		{Field: "instructions", IsPHI: true},
		{Field: "status", IsPHI: false},
		{Field: "prescriber_id", IsPHI: false},
	},
	"lab_results": {
		{Field: "patient_id", IsPHI: false},
		{Field: "test_code", IsPHI: false},
		{Field: "value", IsPHI: true},
		{Field: "reference_range", IsPHI: false},
		{Field: "interpretation", IsPHI: true},
		{Field: "status", IsPHI: false},
	},
	"appointments": {
		{Field: "patient_id", IsPHI: false},
		{Field: "reason", IsPHI: true},
		{Field: "scheduled_at", IsPHI: false},
		{Field: "provider_id", IsPHI: false},
		{Field: "status", IsPHI: false},
	},
	"documents": {
		{Field: "patient_id", IsPHI: false},
		{Field: "title", IsPHI: true},
		{Field: "body", IsPHI: true},
		{Field: "document_type", IsPHI: false},
	},
	"users": {
		{Field: "email", IsPHI: false},
		{Field: "name", IsPHI: false},
		{Field: "role", IsPHI: false},
	},
	"sessions": {
		{Field: "user_id", IsPHI: false},
		{Field: "termination_reason", IsPHI: false},
	},
}

// IsPHIField reports whether a field of a resource type carries PHI.
// Unknown types and unlisted fields count as PHI.
func IsPHIField(resourceType, field string) bool {
	classes, ok := phiFields[resourceType]
	if !ok {
		return true
	}
	for _, c := range classes {
		if c.Field == field {
			return c.IsPHI
		}
	}
	return true
}

// RedactState returns a copy of state with every PHI-classified value
// replaced by the redaction sentinel. A nil input returns nil.
func RedactState(resourceType string, state map[string]string) map[string]string {
	if state == nil {
		return nil
	}
	out := make(map[string]string, len(state))
	for k, v := range state {
		if IsPHIField(resourceType, k) {
			out[k] = RedactionSentinel
		} else {
			out[k] = v
		}
	}
	return out
}

// PHIFieldsFor returns the classification rows for a resource type in their
// declared order, nil for unknown types.
func PHIFieldsFor(resourceType string) []FieldClass {
	return phiFields[resourceType]
}
