package ruleengine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAttributes_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	t.Run("Should decode typed core and normalize custom fields", func(t *testing.T) {
		t.Parallel()

		// Arrange
		payload := `{
			"id": "u1",
			"email": "jane@acme.io",
			"plan": "pro",
			"tags": ["beta", "vip"],
			"company_size": 42,
			"trial": true,
			"regions": ["eu", 3],
			"nickname": null,
			"meta": {"nested": "ignored"}
		}`

		// Act
		var attrs UserAttributes
		err := json.Unmarshal([]byte(payload), &attrs)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "u1", attrs.ID)
		require.NotNil(t, attrs.Email)
		assert.Equal(t, "jane@acme.io", *attrs.Email)
		require.NotNil(t, attrs.Plan)
		assert.Equal(t, "pro", *attrs.Plan)
		assert.Nil(t, attrs.Role)
		assert.Equal(t, []string{"beta", "vip"}, attrs.Tags)

		assert.Equal(t, ScalarValue("42"), attrs.Custom["company_size"])
		assert.Equal(t, ScalarValue("true"), attrs.Custom["trial"])
		assert.Equal(t, ListValue("eu", "3"), attrs.Custom["regions"])
		assert.NotContains(t, attrs.Custom, "nickname")
		assert.NotContains(t, attrs.Custom, "meta")
	})

	t.Run("Should treat null core field as absent", func(t *testing.T) {
		t.Parallel()

		var attrs UserAttributes
		require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","plan":null,"tags":null}`), &attrs))

		_, planPresent := attrs.Lookup(FieldPlan)
		_, tagsPresent := attrs.Lookup(FieldTags)
		assert.False(t, planPresent)
		assert.False(t, tagsPresent)
	})

	t.Run("Should reject core field with wrong type", func(t *testing.T) {
		t.Parallel()

		var attrs UserAttributes
		err := json.Unmarshal([]byte(`{"id": 17}`), &attrs)

		require.Error(t, err)
		assert.Contains(t, err.Error(), `field "id"`)
	})

	t.Run("Should reject non-object payload", func(t *testing.T) {
		t.Parallel()

		var attrs UserAttributes
		assert.Error(t, json.Unmarshal([]byte(`["u1"]`), &attrs))
	})
}

func TestUserAttributes_Lookup(t *testing.T) {
	t.Parallel()

	attrs := UserAttributes{
		ID:     "u1",
		Tags:   []string{},
		Custom: map[string]Value{"plan": ScalarValue("shadowed")},
	}

	v, ok := attrs.Lookup(FieldTags)
	assert.True(t, ok, "an empty tag list is present, not absent")
	assert.True(t, v.IsList)

	_, ok = attrs.Lookup(FieldPlan)
	assert.False(t, ok, "core fields are never resolved from the custom map")

	_, ok = attrs.Lookup("unknown")
	assert.False(t, ok)
}

func TestUserAttributes_MarshalJSON(t *testing.T) {
	t.Parallel()

	attrs := UserAttributes{
		ID:     "u1",
		Plan:   strPtr("pro"),
		Tags:   []string{"beta"},
		Custom: map[string]Value{"country": ScalarValue("BR")},
	}

	raw, err := json.Marshal(attrs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1","plan":"pro","tags":["beta"],"country":"BR"}`, string(raw))

	var decoded UserAttributes
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, attrs, decoded)
}
