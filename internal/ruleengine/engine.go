package ruleengine

import (
	"log/slog"
)

// Engine is the orchestrator for audience targeting.
// It is stateless after construction and safe for concurrent use.
type Engine struct {
	strategies map[Operator]Evaluator
	logger     *slog.Logger // Dedicated logger instance (DI)
}

// New creates a new Engine.
// It requires a logger instance to ensure observability without relying on global state.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		logger: logger,
		strategies: map[Operator]Evaluator{
			OpIn:       &InEvaluator{},
			OpNotIn:    &NotInEvaluator{},
			OpEq:       &EqEvaluator{},
			OpContains: &ContainsEvaluator{},
		},
	}
}

// Matches evaluates a single rule against the user attributes.
func (e *Engine) Matches(attrs UserAttributes, rule FilterRule) bool {
	strategy, exists := e.strategies[rule.Operator]
	if !exists {
		// Fail closed: a broken rule may under-match but never over-match.
		e.logger.Warn("unknown rule operator",
			"operator", rule.Operator,
			"field", rule.Field,
		)
		return false
	}

	value, present := attrs.Lookup(rule.Field)
	return strategy.Eval(value, present, rule.Value)
}

// UserMatchesSegment reports whether every rule of the segment matches.
// A segment without rules matches every user.
func (e *Engine) UserMatchesSegment(attrs UserAttributes, segment Segment) bool {
	for _, rule := range segment.Rules {
		if !e.Matches(attrs, rule) {
			return false
		}
	}
	return true
}
