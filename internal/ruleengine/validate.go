package ruleengine

import (
	"errors"
	"fmt"
)

// MaxRuleValues limits the number of operands of a single rule.
// Long operand lists belong in a dedicated segment attribute, not in a rule.
const MaxRuleValues = 1_000

// ErrInvalidRule is wrapped by every error returned from ValidateRules.
var ErrInvalidRule = errors.New("invalid filter rule")

// IsKnownOperator reports whether op has a registered strategy.
func IsKnownOperator(op Operator) bool {
	switch op {
	case OpIn, OpNotIn, OpEq, OpContains:
		return true
	}
	return false
}

// ValidateRules checks a rule set before it is persisted.
// Evaluation never fails, so this is the only place a bad rule is reported to the operator.
func ValidateRules(rules []FilterRule) error {
	for i, rule := range rules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

func validateRule(rule FilterRule) error {
	if rule.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidRule)
	}

	if !IsKnownOperator(rule.Operator) {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, rule.Operator)
	}

	if (rule.Operator == OpEq || rule.Operator == OpContains) && len(rule.Value) == 0 {
		return fmt.Errorf("%w: operator %q requires at least one value", ErrInvalidRule, rule.Operator)
	}

	if len(rule.Value) > MaxRuleValues {
		return fmt.Errorf("%w: %d values exceeds maximum of %d", ErrInvalidRule, len(rule.Value), MaxRuleValues)
	}

	return nil
}
