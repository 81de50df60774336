// Package ruleengine provides the audience targeting logic for notifications.
// It implements a Strategy pattern where each rule operator is evaluated by a
// dedicated Evaluator against the attributes of the requesting user.
package ruleengine

// Operator identifies how a FilterRule compares the user value with the rule values.
type Operator string

const (
	// OpIn matches when the user value (or any element of it) is one of the rule values.
	OpIn Operator = "in"

	// OpNotIn is the logical negation of OpIn.
	OpNotIn Operator = "not_in"

	// OpEq matches when the string form of the user value equals the first rule value.
	OpEq Operator = "eq"

	// OpContains is a case-insensitive substring test against the first rule value.
	OpContains Operator = "contains"
)

// FilterRule is a single predicate of a Segment.
// It mirrors one row of the 'segment_rules' table.
type FilterRule struct {
	// Field is the attribute name looked up in UserAttributes (e.g., "plan", "tags").
	Field string `json:"field"`

	// Operator selects the Evaluator strategy.
	Operator Operator `json:"operator"`

	// Value holds the comparison operands. For eq and contains only the
	// first element is used.
	Value []string `json:"value"`
}

// Segment is a named audience definition. Its rules combine with AND semantics.
type Segment struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Rules []FilterRule `json:"rules"`
}
