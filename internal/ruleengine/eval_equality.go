package ruleengine

import "strings"

// EqEvaluator implements exact, case-sensitive equality for the 'eq' operator.
type EqEvaluator struct{}

// Eval compares the string form of the user value with the first operand.
// Lists compare through their comma-joined form.
func (e *EqEvaluator) Eval(userValue Value, present bool, ruleValue []string) bool {
	if !present || len(ruleValue) == 0 {
		return false
	}
	return userValue.String() == ruleValue[0]
}

// ContainsEvaluator implements the 'contains' operator as a case-insensitive substring test.
type ContainsEvaluator struct{}

// Eval reports whether the user value (or any element of a list value)
// contains the first operand, ignoring case.
func (e *ContainsEvaluator) Eval(userValue Value, present bool, ruleValue []string) bool {
	if !present || len(ruleValue) == 0 {
		return false
	}

	needle := strings.ToLower(ruleValue[0])
	if !userValue.IsList {
		return strings.Contains(strings.ToLower(userValue.Scalar), needle)
	}

	for _, item := range userValue.List {
		if strings.Contains(strings.ToLower(item), needle) {
			return true
		}
	}
	return false
}
