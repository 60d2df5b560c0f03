package models

import (
	"time"
)

// Campaign ties a traffic channel to a funnel (lander and/or offer).
type Campaign struct {
	ID       int64  `json:"id"`
	UniqueID string `json:"unique_id"` // stable external identifier used in tracking links
	Name     string `json:"name"`

	TrafficChannelID int64 `json:"traffic_channel_id"`
	DomainID         int64 `json:"domain_id,omitempty"`
	LanderID         int64 `json:"lander_id,omitempty"`
	OfferID          int64 `json:"offer_id,omitempty"`

	IsActive      bool   `json:"is_active"`
	DirectLinking bool   `json:"direct_linking"` // true skips the lander
	PromotingURL  string `json:"promoting_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrafficChannel is an inbound traffic source (ad platform).
// MacroFormat maps canonical sub names to the channel's own query
// parameter names, e.g. "sub1" -> "utm_content". It is applied both
// when parsing inbound hits and when emitting outbound URLs.
type TrafficChannel struct {
	ID          int64  `json:"id"`
	ChannelName string `json:"channel_name"`

	MacroFormat map[string]string `json:"macro_format,omitempty"`

	// Postback template containing macro placeholders, called on conversion.
	PostbackURL    string `json:"postback_url,omitempty"`
	S2SPostbackURL string `json:"s2s_postback_url,omitempty"`

	CostPerClick float64 `json:"cost_per_click"`

	// Credentials for platform conversion APIs (forwarding is an
	// external collaborator; only carried here).
	PixelID  string `json:"pixel_id,omitempty"`
	APIToken string `json:"api_token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lander is a landing page shown before the offer.
type Lander struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Offer is the monetized destination. URL is a tracking template with
// macro placeholders.
type Offer struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	URL           string  `json:"url"`
	OfferSourceID int64   `json:"offer_source_id,omitempty"`
	Payout        float64 `json:"payout"`
}

// OfferSource is an affiliate network offers come from.
type OfferSource struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	PostbackParam string  `json:"postback_param,omitempty"` // param name carrying the click id
	Payout        float64 `json:"payout"`
}
