package delivery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/heraldhq/herald/internal/ruleengine"
)

// AnonymousID is the id given to callers that did not identify themselves.
const AnonymousID = "anonymous"

// MaxExternalIDLength bounds the customer-supplied user id.
const MaxExternalIDLength = 256

var (
	validate      = validator.New()
	externalIDTag = fmt.Sprintf("required,max=%d", MaxExternalIDLength)
)

// Anonymous returns the attributes of an unidentified caller.
func Anonymous() ruleengine.UserAttributes {
	return ruleengine.UserAttributes{ID: AnonymousID}
}

// IsAnonymous reports whether attrs belong to an unidentified caller.
func IsAnonymous(attrs ruleengine.UserAttributes) bool {
	return attrs.ID == "" || attrs.ID == AnonymousID
}

// ParseUserPayload decodes the "user" object of a delivery request.
// It never fails: absent, null, malformed or id-less payloads yield Anonymous().
func ParseUserPayload(raw json.RawMessage) ruleengine.UserAttributes {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Anonymous()
	}

	var attrs ruleengine.UserAttributes
	if err := json.Unmarshal(trimmed, &attrs); err != nil {
		return Anonymous()
	}
	if err := validate.Var(attrs.ID, externalIDTag); err != nil {
		return Anonymous()
	}
	return attrs
}
