package delivery

import "github.com/heraldhq/herald/internal/store"

// Payload is the SDK-facing projection of a notification. Targeting,
// scheduling and capping fields never leave the server.
type Payload struct {
	ID                 string  `json:"id"`
	Type               string  `json:"type"`
	Position           string  `json:"position"`
	Lang               string  `json:"lang"`
	Title              string  `json:"title"`
	Body               string  `json:"body"`
	CTAText            *string `json:"ctaText"`
	CTAURL             *string `json:"ctaUrl"`
	ImageURL           *string `json:"imageUrl"`
	BackgroundColor    string  `json:"backgroundColor"`
	TextColor          string  `json:"textColor"`
	CTAColor           string  `json:"ctaColor"`
	AutoDismissSeconds *int    `json:"autoDismissSeconds"`
	IsDismissable      bool    `json:"isDismissable"`
}

// ToPayload projects n for the SDK.
func ToPayload(n *store.Notification) Payload {
	return Payload{
		ID:                 n.ID,
		Type:               string(n.Type),
		Position:           string(n.Position),
		Lang:               n.Lang,
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
	}
}
