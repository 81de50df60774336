package ruleengine

// Evaluator is the interface that all operator strategies must implement.
// It encapsulates the comparison between one user-side value and the rule operands.
type Evaluator interface {
	// Eval checks if the user value satisfies the rule operands.
	//
	// Parameters:
	//   - userValue: The normalized attribute value resolved by UserAttributes.Lookup.
	//   - present: False when the attribute is absent (undefined) for this user.
	//   - ruleValue: The operands stored on the FilterRule.
	//
	// Absence is data, not an error: every strategy must return a decision.
	Eval(userValue Value, present bool, ruleValue []string) bool
}
