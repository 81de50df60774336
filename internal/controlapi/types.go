// Package controlapi implements the REST API of the Herald Control Plane.
// It handles HTTP routing, request decoding, validation, and response formatting
// for segments, notifications, analytics and end-user identification.
package controlapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/heraldhq/herald/internal/ruleengine"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/validation"
)

// -----------------------------------------------------------------------------
// Segments
// -----------------------------------------------------------------------------

// RuleRequest is a single filter rule of a segment payload.
type RuleRequest struct {
	Field    string   `json:"field" validate:"required,max=100"`
	Operator string   `json:"operator" validate:"required,oneof=in not_in eq contains"`
	Value    []string `json:"value" validate:"max=1000"`
}

// SegmentRequest is the payload of POST /segments and PUT /segments/{id}.
// PUT replaces the name and the whole rule set.
type SegmentRequest struct {
	Name  string        `json:"name" validate:"required,max=255"`
	Rules []RuleRequest `json:"rules" validate:"dive"`
}

// Sanitize trims whitespace from names and fields.
func (r *SegmentRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	for i := range r.Rules {
		r.Rules[i].Field = strings.TrimSpace(r.Rules[i].Field)
	}
}

// Validate checks field constraints and then the rules themselves.
func (r *SegmentRequest) Validate() []validation.FieldError {
	if errs := validation.Struct(r); errs != nil {
		return errs
	}
	if err := ruleengine.ValidateRules(r.filterRules()); err != nil {
		return []validation.FieldError{{Field: "rules", Issue: err.Error()}}
	}
	return nil
}

func (r *SegmentRequest) filterRules() []ruleengine.FilterRule {
	rules := make([]ruleengine.FilterRule, len(r.Rules))
	for i, rr := range r.Rules {
		value := rr.Value
		if value == nil {
			value = []string{}
		}
		rules[i] = ruleengine.FilterRule{Field: rr.Field, Operator: ruleengine.Operator(rr.Operator), Value: value}
	}
	return rules
}

// Segment is the segment resource returned by the API.
type Segment struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Rules     []ruleengine.FilterRule `json:"rules"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

func toSegment(s *store.Segment) Segment {
	rules := s.Rules
	if rules == nil {
		rules = []ruleengine.FilterRule{}
	}
	return Segment{ID: s.ID, Name: s.Name, Rules: rules, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// NotificationRequest is the payload of POST /notifications.
// Omitted presentation fields take their defaults.
type NotificationRequest struct {
	Name               string     `json:"name" validate:"required,max=255"`
	Lang               string     `json:"lang" validate:"omitempty,oneof=en ar"`
	Type               string     `json:"type" validate:"omitempty,oneof=banner modal toast"`
	Position           string     `json:"position" validate:"omitempty,oneof=top bottom center"`
	Status             string     `json:"status" validate:"omitempty,oneof=draft scheduled active ended"`
	Title              string     `json:"title" validate:"required,max=255"`
	Body               string     `json:"body" validate:"max=5000"`
	CTAText            *string    `json:"ctaText" validate:"omitempty,max=100"`
	CTAURL             *string    `json:"ctaUrl" validate:"omitempty,url"`
	ImageURL           *string    `json:"imageUrl" validate:"omitempty,url"`
	BackgroundColor    string     `json:"backgroundColor" validate:"omitempty,hexcolor"`
	TextColor          string     `json:"textColor" validate:"omitempty,hexcolor"`
	CTAColor           string     `json:"ctaColor" validate:"omitempty,hexcolor"`
	AutoDismissSeconds *int       `json:"autoDismissSeconds" validate:"omitempty,min=1"`
	IsDismissable      *bool      `json:"isDismissable"`
	IsSticky           bool       `json:"isSticky"`
	StartsAt           *time.Time `json:"startsAt"`
	EndsAt             *time.Time `json:"endsAt"`
	MaxViewsPerUser    *int       `json:"maxViewsPerUser" validate:"omitempty,min=1"`
	RepeatPolicy       string     `json:"repeatPolicy" validate:"omitempty,oneof=once every_load"`
	SegmentIDs         []string   `json:"segmentIds" validate:"dive,required"`
	ExcludeSegmentIDs  []string   `json:"excludeSegmentIds" validate:"dive,required"`
}

// Sanitize trims whitespace from free-text identifiers.
func (r *NotificationRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Title = strings.TrimSpace(r.Title)
}

// Validate checks field constraints and the activation window.
func (r *NotificationRequest) Validate() []validation.FieldError {
	if errs := validation.Struct(r); errs != nil {
		return errs
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.EndsAt.After(*r.StartsAt) {
		return []validation.FieldError{{Field: "endsAt", Issue: "must be after startsAt"}}
	}
	return nil
}

// toModel maps the payload onto a new notification of accountID.
func (r *NotificationRequest) toModel(accountID string) *store.Notification {
	n := &store.Notification{
		AccountID:          accountID,
		Name:               r.Name,
		Lang:               r.Lang,
		Type:               store.NotificationType(r.Type),
		Position:           store.Position(r.Position),
		Status:             store.NotificationStatus(r.Status),
		Title:              r.Title,
		Body:               r.Body,
		CTAText:            r.CTAText,
		CTAURL:             r.CTAURL,
		ImageURL:           r.ImageURL,
		BackgroundColor:    r.BackgroundColor,
		TextColor:          r.TextColor,
		CTAColor:           r.CTAColor,
		AutoDismissSeconds: r.AutoDismissSeconds,
		IsDismissable:      true,
		IsSticky:           r.IsSticky,
		StartsAt:           r.StartsAt,
		EndsAt:             r.EndsAt,
		MaxViewsPerUser:    r.MaxViewsPerUser,
		RepeatPolicy:       store.RepeatPolicy(r.RepeatPolicy),
		IncludeSegments:    segmentRefs(r.SegmentIDs),
		ExcludeSegments:    segmentRefs(r.ExcludeSegmentIDs),
	}
	if r.IsDismissable != nil {
		n.IsDismissable = *r.IsDismissable
	}
	return n
}

// requestFromModel is the inverse of toModel, used to re-validate a notification after a partial update.
func requestFromModel(n *store.Notification) NotificationRequest {
	dismissable := n.IsDismissable
	return NotificationRequest{
		Name:               n.Name,
		Lang:               n.Lang,
		Type:               string(n.Type),
		Position:           string(n.Position),
		Status:             string(n.Status),
		Title:              n.Title,
		Body:               n.Body,
		CTAText:            n.CTAText,
		CTAURL:             n.CTAURL,
		ImageURL:           n.ImageURL,
		BackgroundColor:    n.BackgroundColor,
		TextColor:          n.TextColor,
		CTAColor:           n.CTAColor,
		AutoDismissSeconds: n.AutoDismissSeconds,
		IsDismissable:      &dismissable,
		IsSticky:           n.IsSticky,
		StartsAt:           n.StartsAt,
		EndsAt:             n.EndsAt,
		MaxViewsPerUser:    n.MaxViewsPerUser,
		RepeatPolicy:       string(n.RepeatPolicy),
		SegmentIDs:         store.SegmentIDs(n.IncludeSegments),
		ExcludeSegmentIDs:  store.SegmentIDs(n.ExcludeSegments),
	}
}

func segmentRefs(ids []string) []ruleengine.Segment {
	refs := make([]ruleengine.Segment, len(ids))
	for i, id := range ids {
		refs[i] = ruleengine.Segment{ID: id}
	}
	return refs
}

// Nullable distinguishes an omitted field (Set=false) from an explicit null
// (Set=true, Value=nil) in partial updates.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

func (n Nullable[T]) apply(dst **T) {
	if n.Set {
		*dst = n.Value
	}
}

// UpdateNotificationRequest is the payload of PUT /notifications/{id}.
// Only the fields present in the body are changed; segment lists, when
// present, replace the targeting wholesale.
type UpdateNotificationRequest struct {
	Name               *string             `json:"name"`
	Lang               *string             `json:"lang"`
	Type               *string             `json:"type"`
	Position           *string             `json:"position"`
	Status             *string             `json:"status"`
	Title              *string             `json:"title"`
	Body               *string             `json:"body"`
	CTAText            Nullable[string]    `json:"ctaText"`
	CTAURL             Nullable[string]    `json:"ctaUrl"`
	ImageURL           Nullable[string]    `json:"imageUrl"`
	BackgroundColor    *string             `json:"backgroundColor"`
	TextColor          *string             `json:"textColor"`
	CTAColor           *string             `json:"ctaColor"`
	AutoDismissSeconds Nullable[int]       `json:"autoDismissSeconds"`
	IsDismissable      *bool               `json:"isDismissable"`
	IsSticky           *bool               `json:"isSticky"`
	StartsAt           Nullable[time.Time] `json:"startsAt"`
	EndsAt             Nullable[time.Time] `json:"endsAt"`
	MaxViewsPerUser    Nullable[int]       `json:"maxViewsPerUser"`
	RepeatPolicy       *string             `json:"repeatPolicy"`
	SegmentIDs         *[]string           `json:"segmentIds"`
	ExcludeSegmentIDs  *[]string           `json:"excludeSegmentIds"`
}

// applyTo merges the present fields into n. The result must be re-validated.
func (r *UpdateNotificationRequest) applyTo(n *store.Notification) {
	setString(&n.Name, r.Name)
	setString(&n.Lang, r.Lang)
	setString(&n.Title, r.Title)
	setString(&n.Body, r.Body)
	setString(&n.BackgroundColor, r.BackgroundColor)
	setString(&n.TextColor, r.TextColor)
	setString(&n.CTAColor, r.CTAColor)
	if r.Type != nil {
		n.Type = store.NotificationType(*r.Type)
	}
	if r.Position != nil {
		n.Position = store.Position(*r.Position)
	}
	if r.Status != nil {
		n.Status = store.NotificationStatus(*r.Status)
	}
	if r.RepeatPolicy != nil {
		n.RepeatPolicy = store.RepeatPolicy(*r.RepeatPolicy)
	}
	if r.IsDismissable != nil {
		n.IsDismissable = *r.IsDismissable
	}
	if r.IsSticky != nil {
		n.IsSticky = *r.IsSticky
	}
	r.CTAText.apply(&n.CTAText)
	r.CTAURL.apply(&n.CTAURL)
	r.ImageURL.apply(&n.ImageURL)
	r.AutoDismissSeconds.apply(&n.AutoDismissSeconds)
	r.StartsAt.apply(&n.StartsAt)
	r.EndsAt.apply(&n.EndsAt)
	r.MaxViewsPerUser.apply(&n.MaxViewsPerUser)
	if r.SegmentIDs != nil {
		n.IncludeSegments = segmentRefs(*r.SegmentIDs)
	}
	if r.ExcludeSegmentIDs != nil {
		n.ExcludeSegments = segmentRefs(*r.ExcludeSegmentIDs)
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

// UpdateStatusRequest is the payload of PATCH /notifications/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft scheduled active ended"`
}

// SegmentRef is the compact form of a targeted segment.
type SegmentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Notification is the notification resource returned by the API.
type Notification struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Lang               string       `json:"lang"`
	Type               string       `json:"type"`
	Position           string       `json:"position"`
	Status             string       `json:"status"`
	Title              string       `json:"title"`
	Body               string       `json:"body"`
	CTAText            *string      `json:"ctaText"`
	CTAURL             *string      `json:"ctaUrl"`
	ImageURL           *string      `json:"imageUrl"`
	BackgroundColor    string       `json:"backgroundColor"`
	TextColor          string       `json:"textColor"`
	CTAColor           string       `json:"ctaColor"`
	AutoDismissSeconds *int         `json:"autoDismissSeconds"`
	IsDismissable      bool         `json:"isDismissable"`
	IsSticky           bool         `json:"isSticky"`
	StartsAt           *time.Time   `json:"startsAt"`
	EndsAt             *time.Time   `json:"endsAt"`
	MaxViewsPerUser    *int         `json:"maxViewsPerUser"`
	RepeatPolicy       string       `json:"repeatPolicy"`
	Segments           []SegmentRef `json:"segments"`
	Exclusions         []SegmentRef `json:"exclusions"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

func toNotification(n *store.Notification) Notification {
	return Notification{
		ID:                 n.ID,
		Name:               n.Name,
		Lang:               n.Lang,
		Type:               string(n.Type),
		Position:           string(n.Position),
		Status:             string(n.Status),
		Title:              n.Title,
		Body:               n.Body,
		CTAText:            n.CTAText,
		CTAURL:             n.CTAURL,
		ImageURL:           n.ImageURL,
		BackgroundColor:    n.BackgroundColor,
		TextColor:          n.TextColor,
		CTAColor:           n.CTAColor,
		AutoDismissSeconds: n.AutoDismissSeconds,
		IsDismissable:      n.IsDismissable,
		IsSticky:           n.IsSticky,
		StartsAt:           n.StartsAt,
		EndsAt:             n.EndsAt,
		MaxViewsPerUser:    n.MaxViewsPerUser,
		RepeatPolicy:       string(n.RepeatPolicy),
		Segments:           toRefs(n.IncludeSegments),
		Exclusions:         toRefs(n.ExcludeSegments),
		CreatedAt:          n.CreatedAt,
		UpdatedAt:          n.UpdatedAt,
	}
}

func toRefs(segs []ruleengine.Segment) []SegmentRef {
	refs := make([]SegmentRef, len(segs))
	for i, s := range segs {
		refs[i] = SegmentRef{ID: s.ID, Name: s.Name}
	}
	return refs
}

// -----------------------------------------------------------------------------
// Identification
// -----------------------------------------------------------------------------

// IdentifyRequest is the payload of POST /events. User carries the full
// attribute set; only its id and email are checked here.
type IdentifyRequest struct {
	Event string          `json:"event" validate:"required,max=100"`
	User  json.RawMessage `json:"user" validate:"required"`
}

type identifiedUser struct {
	ID    string  `json:"id" validate:"required,max=256"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// IdentifyResponse acknowledges an identify call.
type IdentifyResponse struct {
	Received bool   `json:"received"`
	Event    string `json:"event"`
}

// -----------------------------------------------------------------------------
// Listing
// -----------------------------------------------------------------------------

// ListResponse wraps unpaginated collections.
type ListResponse struct {
	Data any `json:"data"`
}

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	// Data holds the list of resources (e.g., []Notification).
	Data any `json:"data"`

	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the dashboard pager.
type Pagination struct {
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int   `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
}
