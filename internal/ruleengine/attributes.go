package ruleengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Core attribute names resolved from the typed fields of UserAttributes.
const (
	FieldID    = "id"
	FieldEmail = "email"
	FieldPlan  = "plan"
	FieldRole  = "role"
	FieldTags  = "tags"
)

// Value is the normalized, string-typed form of a user attribute.
// It is either a scalar or an ordered list of strings (e.g., tags).
type Value struct {
	Scalar string
	List   []string
	IsList bool
}

// ScalarValue builds a scalar Value.
func ScalarValue(s string) Value {
	return Value{Scalar: s}
}

// ListValue builds a list Value. A nil list still produces an (empty) list.
func ListValue(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{List: items, IsList: true}
}

// String returns the string form of the value.
// Lists are joined with "," so that eq comparisons against a list are well defined.
func (v Value) String() string {
	if v.IsList {
		return strings.Join(v.List, ",")
	}
	return v.Scalar
}

// UserAttributes describes the entity requesting notifications.
// It is a typed core (id, email, plan, role, tags) plus an open-ended
// Custom map so rules can target arbitrary fields without reflection.
//
// Optional core fields are pointers (or a nil slice for Tags) so that an
// absent field is distinguishable from an empty one.
type UserAttributes struct {
	ID     string
	Email  *string
	Plan   *string
	Role   *string
	Tags   []string
	Custom map[string]Value
}

// Lookup resolves a rule field against the attributes.
// The boolean is false when the field is absent (undefined).
func (u UserAttributes) Lookup(field string) (Value, bool) {
	switch field {
	case FieldID:
		if u.ID == "" {
			return Value{}, false
		}
		return ScalarValue(u.ID), true
	case FieldEmail:
		return optionalScalar(u.Email)
	case FieldPlan:
		return optionalScalar(u.Plan)
	case FieldRole:
		return optionalScalar(u.Role)
	case FieldTags:
		if u.Tags == nil {
			return Value{}, false
		}
		return ListValue(u.Tags...), true
	}

	v, ok := u.Custom[field]
	return v, ok
}

func optionalScalar(s *string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	return ScalarValue(*s), true
}

// UnmarshalJSON decodes an identify payload such as
// {"id":"u1","plan":"pro","tags":["beta"],"company_size":42}.
//
// Core fields must have their documented JSON types; a type mismatch is an error.
// Custom fields are normalized to string form: strings and arrays of scalars are
// kept, numbers and booleans are stringified, null and objects are dropped.
func (u *UserAttributes) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out UserAttributes
	for key, msg := range raw {
		switch key {
		case FieldID:
			if err := json.Unmarshal(msg, &out.ID); err != nil {
				return fmt.Errorf("field %q must be a string: %w", key, err)
			}
		case FieldEmail:
			s, err := decodeOptionalString(key, msg)
			if err != nil {
				return err
			}
			out.Email = s
		case FieldPlan:
			s, err := decodeOptionalString(key, msg)
			if err != nil {
				return err
			}
			out.Plan = s
		case FieldRole:
			s, err := decodeOptionalString(key, msg)
			if err != nil {
				return err
			}
			out.Role = s
		case FieldTags:
			if isNull(msg) {
				continue
			}
			tags := []string{}
			if err := json.Unmarshal(msg, &tags); err != nil {
				return fmt.Errorf("field %q must be an array of strings: %w", key, err)
			}
			out.Tags = tags
		default:
			v, ok := normalizeCustom(msg)
			if !ok {
				continue
			}
			if out.Custom == nil {
				out.Custom = make(map[string]Value)
			}
			out.Custom[key] = v
		}
	}

	*u = out
	return nil
}

// MarshalJSON renders the attributes back into the flat identify shape.
// Used when persisting the end-user record.
func (u UserAttributes) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(u.Custom)+5)
	for k, v := range u.Custom {
		if v.IsList {
			flat[k] = v.List
		} else {
			flat[k] = v.Scalar
		}
	}
	flat[FieldID] = u.ID
	if u.Email != nil {
		flat[FieldEmail] = *u.Email
	}
	if u.Plan != nil {
		flat[FieldPlan] = *u.Plan
	}
	if u.Role != nil {
		flat[FieldRole] = *u.Role
	}
	if u.Tags != nil {
		flat[FieldTags] = u.Tags
	}
	return json.Marshal(flat)
}

func decodeOptionalString(key string, msg json.RawMessage) (*string, error) {
	if isNull(msg) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return nil, fmt.Errorf("field %q must be a string: %w", key, err)
	}
	return &s, nil
}

func isNull(msg json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}

// normalizeCustom converts an arbitrary JSON value to a Value.
func normalizeCustom(msg json.RawMessage) (Value, bool) {
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return Value{}, false
	}

	if items, ok := decoded.([]any); ok {
		list := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := scalarString(item); ok {
				list = append(list, s)
			}
		}
		return ListValue(list...), true
	}

	s, ok := scalarString(decoded)
	if !ok {
		return Value{}, false
	}
	return ScalarValue(s), true
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
