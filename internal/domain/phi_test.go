package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/caretrace/internal/domain"
)

func TestIsPHIField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		resourceType string
		field        string
		want         bool
	}{
		{"patients", "ssn", true},
		{"patients", "status", false},
		{"encounters", "notes", true},
		{"encounters", "provider_id", false},
		{"lab_results", "value", true},
		{"lab_results", "test_code", false},

		// Unlisted field of a known type: treated as PHI.
		{"patients", "insurance_number", true},

		// Unknown resource type: everything is PHI.
		{"billing_claims", "amount", true},
	}

	for _, tt := range tests {
		t.Run(tt.resourceType+"."+tt.field, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, domain.IsPHIField(tt.resourceType, tt.field))
		})
	}
}

func TestRedactState(t *testing.T) {
	t.Parallel()

	in := map[string]string{
		"ssn":    "123-45-6789",
		"phone":  "555-0100",
		"status": "active",
	}

	out := domain.RedactState("patients", in)

	require.NotNil(t, out)
	assert.Equal(t, domain.RedactionSentinel, out["ssn"])
	assert.Equal(t, domain.RedactionSentinel, out["phone"])
	assert.Equal(t, "active", out["status"])

	// Input map is untouched.
	assert.Equal(t, "123-45-6789", in["ssn"])
}

func TestRedactState_Nil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, domain.RedactState("patients", nil))
}

func TestPHIFieldsFor_Order(t *testing.T) {
	t.Parallel()

	fields := domain.PHIFieldsFor("patients")
	require.NotEmpty(t, fields)
	assert.Equal(t, "mrn", fields[0].Field)

	assert.Nil(t, domain.PHIFieldsFor("unknown_type"))
}
