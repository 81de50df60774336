package ruleengine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRules(t *testing.T) {
	t.Parallel()

	tooMany := make([]string, MaxRuleValues+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("v%d", i)
	}

	tests := []struct {
		name     string
		rules    []FilterRule
		errorMsg string
	}{
		{
			name:  "Should accept empty rule set",
			rules: nil,
		},
		{
			name: "Should accept in with empty operand list",
			rules: []FilterRule{
				{Field: "plan", Operator: OpIn, Value: []string{}},
			},
		},
		{
			name: "Should accept every known operator",
			rules: []FilterRule{
				{Field: "plan", Operator: OpIn, Value: []string{"pro"}},
				{Field: "plan", Operator: OpNotIn, Value: []string{"free"}},
				{Field: "role", Operator: OpEq, Value: []string{"admin"}},
				{Field: "email", Operator: OpContains, Value: []string{"@acme.io"}},
			},
		},
		{
			name:     "Should reject missing field",
			rules:    []FilterRule{{Operator: OpIn, Value: []string{"x"}}},
			errorMsg: "field is required",
		},
		{
			name:     "Should reject unknown operator",
			rules:    []FilterRule{{Field: "plan", Operator: "gt", Value: []string{"1"}}},
			errorMsg: `unknown operator "gt"`,
		},
		{
			name:     "Should reject eq without operands",
			rules:    []FilterRule{{Field: "role", Operator: OpEq}},
			errorMsg: "requires at least one value",
		},
		{
			name:     "Should reject contains without operands",
			rules:    []FilterRule{{Field: "email", Operator: OpContains, Value: []string{}}},
			errorMsg: "requires at least one value",
		},
		{
			name:     "Should reject oversized operand list",
			rules:    []FilterRule{{Field: "id", Operator: OpIn, Value: tooMany}},
			errorMsg: "exceeds maximum",
		},
		{
			name: "Should report index of the offending rule",
			rules: []FilterRule{
				{Field: "plan", Operator: OpIn, Value: []string{"pro"}},
				{Field: "", Operator: OpIn},
			},
			errorMsg: "rule 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateRules(tt.rules)

			if tt.errorMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRule)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}
