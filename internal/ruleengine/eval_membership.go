package ruleengine

// InEvaluator implements set membership for the 'in' operator.
// A list value matches when at least one of its elements is a rule operand.
type InEvaluator struct{}

// Eval reports whether the user value (or any element of it) equals one of the operands.
// Comparison is case-sensitive. An absent value never matches.
func (e *InEvaluator) Eval(userValue Value, present bool, ruleValue []string) bool {
	return containsAny(userValue, present, ruleValue)
}

// NotInEvaluator implements the 'not_in' operator as the exact negation of 'in'.
// An absent value therefore always matches.
type NotInEvaluator struct{}

// Eval reports whether no element of the user value equals any operand.
func (e *NotInEvaluator) Eval(userValue Value, present bool, ruleValue []string) bool {
	return !containsAny(userValue, present, ruleValue)
}

// containsAny is the single containment test shared by in and not_in.
func containsAny(userValue Value, present bool, ruleValue []string) bool {
	if !present || len(ruleValue) == 0 {
		return false
	}

	// Small operand lists are the norm; a linear scan avoids a map allocation per call.
	if !userValue.IsList {
		return oneOf(userValue.Scalar, ruleValue)
	}

	for _, item := range userValue.List {
		if oneOf(item, ruleValue) {
			return true
		}
	}
	return false
}

func oneOf(s string, set []string) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
