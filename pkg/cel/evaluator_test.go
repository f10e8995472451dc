package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "age range", expr: `age >= 24 && age <= 64`},
		{name: "list membership", expr: `"CCS" in measures_detected`},
		{name: "evidence flag", expr: `evidence_found && age < 18`},
		{name: "member prefix", expr: `member_id.startsWith("M")`},
		{name: "invalid syntax", expr: `age >=`, wantError: true},
		{name: "undefined variable", expr: `payload.status == "active"`, wantError: true},
		{name: "non-bool result", expr: `age + 1`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.CompileExpression(`evidence_found && "COL" in measures_detected`)
	require.NoError(t, err)

	ok, err := eval.Evaluate(context.Background(), program, Facts{
		Age:              50,
		EvidenceFound:    true,
		MeasuresDetected: []string{"COL"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.Evaluate(context.Background(), program, Facts{Age: 50})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEligibilityDefaults(t *testing.T) {
	el, err := NewEligibility([]Rule{
		{Measure: "wcv", Expression: `age < 18`},
		{Measure: "CCS", Expression: `age >= 24 && age <= 64`},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CCS", "WCV"}, el.Measures())

	tests := []struct {
		age  int
		want []string
	}{
		{age: 10, want: []string{"WCV"}},
		{age: 18, want: []string{}},
		{age: 24, want: []string{"CCS"}},
		{age: 64, want: []string{"CCS"}},
		{age: 70, want: []string{}},
	}

	for _, tt := range tests {
		got, err := el.Eligible(context.Background(), Facts{Age: tt.age, MemberID: "M1"})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "age %d", tt.age)
	}
}

func TestEligibilityRejectsBadRules(t *testing.T) {
	_, err := NewEligibility([]Rule{{Measure: "CCS", Expression: `age`}})
	assert.Error(t, err)

	_, err = NewEligibility([]Rule{
		{Measure: "CCS", Expression: `true`},
		{Measure: "ccs", Expression: `false`},
	})
	assert.Error(t, err)

	_, err = NewEligibility([]Rule{{Measure: " ", Expression: `true`}})
	assert.Error(t, err)
}
