package ruleengine

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestEngine_Matches(t *testing.T) {
	t.Parallel()

	pro := UserAttributes{ID: "u1", Plan: strPtr("pro"), Tags: []string{"beta", "Early-Adopter"}}

	tests := []struct {
		name       string
		attrs      UserAttributes
		rule       FilterRule
		want       bool
		wantLogMsg string
	}{
		// --- in / not_in ---
		{
			name:  "Should match scalar in operand list",
			attrs: pro,
			rule:  FilterRule{Field: "plan", Operator: OpIn, Value: []string{"pro", "enterprise"}},
			want:  true,
		},
		{
			name:  "Should not match scalar outside operand list",
			attrs: UserAttributes{ID: "u2", Plan: strPtr("starter")},
			rule:  FilterRule{Field: "plan", Operator: OpIn, Value: []string{"pro", "enterprise"}},
			want:  false,
		},
		{
			name:  "Should compare in case-sensitively",
			attrs: UserAttributes{ID: "u3", Plan: strPtr("Pro")},
			rule:  FilterRule{Field: "plan", Operator: OpIn, Value: []string{"pro"}},
			want:  false,
		},
		{
			name:  "Should match list when any element is an operand",
			attrs: pro,
			rule:  FilterRule{Field: "tags", Operator: OpIn, Value: []string{"beta"}},
			want:  true,
		},
		{
			name:  "Should not match in when field is absent",
			attrs: UserAttributes{ID: "u4"},
			rule:  FilterRule{Field: "plan", Operator: OpIn, Value: []string{"pro"}},
			want:  false,
		},
		{
			name:  "Should match not_in when field is absent",
			attrs: UserAttributes{ID: "u4"},
			rule:  FilterRule{Field: "plan", Operator: OpNotIn, Value: []string{"pro"}},
			want:  true,
		},
		{
			name:  "Should not match not_in when any list element is an operand",
			attrs: pro,
			rule:  FilterRule{Field: "tags", Operator: OpNotIn, Value: []string{"beta"}},
			want:  false,
		},

		// --- eq ---
		{
			name:  "Should match eq on exact value",
			attrs: UserAttributes{ID: "u5", Role: strPtr("admin")},
			rule:  FilterRule{Field: "role", Operator: OpEq, Value: []string{"admin"}},
			want:  true,
		},
		{
			name:  "Should not match eq with different case",
			attrs: UserAttributes{ID: "u5", Role: strPtr("Admin")},
			rule:  FilterRule{Field: "role", Operator: OpEq, Value: []string{"admin"}},
			want:  false,
		},
		{
			name:  "Should compare eq on list through comma-joined form",
			attrs: UserAttributes{ID: "u6", Tags: []string{"a", "b"}},
			rule:  FilterRule{Field: "tags", Operator: OpEq, Value: []string{"a,b"}},
			want:  true,
		},
		{
			name:  "Should not match eq without operands",
			attrs: UserAttributes{ID: "u5", Role: strPtr("")},
			rule:  FilterRule{Field: "role", Operator: OpEq, Value: nil},
			want:  false,
		},
		{
			name:  "Should not match eq against absent field even for empty operand",
			attrs: UserAttributes{ID: "u7"},
			rule:  FilterRule{Field: "role", Operator: OpEq, Value: []string{""}},
			want:  false,
		},

		// --- contains ---
		{
			name:  "Should match contains ignoring case",
			attrs: UserAttributes{ID: "u8", Email: strPtr("Jane@Acme.io")},
			rule:  FilterRule{Field: "email", Operator: OpContains, Value: []string{"@acme"}},
			want:  true,
		},
		{
			name:  "Should match contains on any list element",
			attrs: pro,
			rule:  FilterRule{Field: "tags", Operator: OpContains, Value: []string{"early"}},
			want:  true,
		},
		{
			name:  "Should not match contains when field is absent",
			attrs: UserAttributes{ID: "u9"},
			rule:  FilterRule{Field: "email", Operator: OpContains, Value: []string{"@"}},
			want:  false,
		},

		// --- custom fields ---
		{
			name: "Should resolve custom attributes",
			attrs: UserAttributes{
				ID:     "u10",
				Custom: map[string]Value{"country": ScalarValue("BR")},
			},
			rule: FilterRule{Field: "country", Operator: OpIn, Value: []string{"BR", "PT"}},
			want: true,
		},
		{
			name:  "Should match id field",
			attrs: UserAttributes{ID: "u11"},
			rule:  FilterRule{Field: "id", Operator: OpEq, Value: []string{"u11"}},
			want:  true,
		},

		// --- fail closed ---
		{
			name:       "Should fail closed and LOG WARNING on unknown operator",
			attrs:      pro,
			rule:       FilterRule{Field: "plan", Operator: "regex", Value: []string{".*"}},
			want:       false,
			wantLogMsg: "unknown rule operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			var logBuffer bytes.Buffer
			engine := New(slog.New(slog.NewTextHandler(&logBuffer, nil)))

			// Act
			got := engine.Matches(tt.attrs, tt.rule)

			// Assert
			assert.Equal(t, tt.want, got)
			if tt.wantLogMsg != "" {
				assert.Contains(t, logBuffer.String(), tt.wantLogMsg)
			}
		})
	}
}

func TestEngine_NotInIsComplementOfIn(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	users := []UserAttributes{
		{},
		{ID: "u1"},
		{ID: "u2", Plan: strPtr("pro")},
		{ID: "u3", Plan: strPtr("starter"), Tags: []string{}},
		{ID: "u4", Tags: []string{"beta", "alpha"}},
		{ID: "u5", Custom: map[string]Value{"plan": ListValue()}},
	}
	operands := [][]string{nil, {}, {"pro"}, {"beta", "pro"}, {"gamma"}}

	for _, field := range []string{"plan", "tags", "missing"} {
		for _, value := range operands {
			for _, u := range users {
				in := FilterRule{Field: field, Operator: OpIn, Value: value}
				notIn := FilterRule{Field: field, Operator: OpNotIn, Value: value}

				assert.Equal(t, !engine.Matches(u, in), engine.Matches(u, notIn),
					"field=%s value=%v user=%+v", field, value, u)
			}
		}
	}
}

func TestEngine_UserMatchesSegment(t *testing.T) {
	t.Parallel()

	proSegment := Segment{
		ID:   "seg-pro",
		Name: "Paying",
		Rules: []FilterRule{
			{Field: "plan", Operator: OpIn, Value: []string{"pro", "enterprise"}},
		},
	}
	proAdmins := Segment{
		ID:   "seg-pro-admins",
		Name: "Paying admins",
		Rules: []FilterRule{
			{Field: "plan", Operator: OpIn, Value: []string{"pro", "enterprise"}},
			{Field: "role", Operator: OpEq, Value: []string{"admin"}},
		},
	}

	tests := []struct {
		name    string
		attrs   UserAttributes
		segment Segment
		want    bool
	}{
		{
			name:    "Should match every user when segment has no rules",
			attrs:   UserAttributes{},
			segment: Segment{ID: "everyone"},
			want:    true,
		},
		{
			name:    "Should match pro user",
			attrs:   UserAttributes{ID: "u1", Plan: strPtr("pro")},
			segment: proSegment,
			want:    true,
		},
		{
			name:    "Should not match starter user",
			attrs:   UserAttributes{ID: "u2", Plan: strPtr("starter")},
			segment: proSegment,
			want:    false,
		},
		{
			name:    "Should require every rule to match",
			attrs:   UserAttributes{ID: "u3", Plan: strPtr("pro"), Role: strPtr("member")},
			segment: proAdmins,
			want:    false,
		},
		{
			name:    "Should match when all rules match",
			attrs:   UserAttributes{ID: "u4", Plan: strPtr("enterprise"), Role: strPtr("admin")},
			segment: proAdmins,
			want:    true,
		},
		{
			name:  "Should not match when one rule has an unknown operator",
			attrs: UserAttributes{ID: "u5", Plan: strPtr("pro")},
			segment: Segment{Rules: []FilterRule{
				{Field: "plan", Operator: OpIn, Value: []string{"pro"}},
				{Field: "plan", Operator: "starts_with", Value: []string{"p"}},
			}},
			want: false,
		},
	}

	engine := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, engine.UserMatchesSegment(tt.attrs, tt.segment))
		})
	}
}
