package dataapi

import (
	"encoding/json"
	"strings"

	"github.com/heraldhq/herald/internal/delivery"
)

// DeliverRequest asks for the notifications of a user. Over HTTP the account
// comes from the path; over gRPC it is part of the message.
type DeliverRequest struct {
	AccountID string          `json:"accountId,omitempty"`
	User      json.RawMessage `json:"user,omitempty"`
}

// DeliverResponse lists the notifications to render, in catalog order.
type DeliverResponse struct {
	Notifications []delivery.Payload `json:"notifications"`
}

// TrackRequest reports a view, click or dismissal.
type TrackRequest struct {
	AccountID      string  `json:"accountId" validate:"required,max=64"`
	NotificationID string  `json:"notificationId" validate:"required,max=64"`
	UserID         string  `json:"userId" validate:"required,max=256"`
	Event          string  `json:"event" validate:"required"`
	CTAURL         *string `json:"ctaUrl" validate:"omitempty,max=2048"`
}

// Sanitize trims identifiers copied around by SDKs.
func (r *TrackRequest) Sanitize() {
	r.AccountID = strings.TrimSpace(r.AccountID)
	r.NotificationID = strings.TrimSpace(r.NotificationID)
	r.UserID = strings.TrimSpace(r.UserID)
}

// TrackResponse acknowledges a report.
type TrackResponse struct {
	OK bool `json:"ok"`
}
