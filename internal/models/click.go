package models

import (
	"time"
)

// Click is one tracked visit through a campaign link. The foreign
// references and request context are set at creation and never change;
// only the lifecycle fields (lander view, conversion) mutate afterwards.
type Click struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Entity references (0 = not resolved)
	CampaignID       int64 `json:"campaign_id"`
	TrafficChannelID int64 `json:"traffic_channel_id"`
	LanderID         int64 `json:"lander_id"`
	OfferID          int64 `json:"offer_id"`
	OfferSourceID    int64 `json:"offer_source_id"`
	DomainID         int64 `json:"domain_id,omitempty"`

	// Request context
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Referer   string `json:"referer,omitempty"`
	Device    string `json:"device,omitempty"`
	OS        string `json:"os,omitempty"`
	Browser   string `json:"browser,omitempty"`

	// Geo info
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`

	// Lifecycle
	LandingPageViewed bool       `json:"landing_page_viewed"`
	LPViewTime        *time.Time `json:"lp_view_time,omitempty"`
	Converted         bool       `json:"conversion"`
	ConversionTime    *time.Time `json:"conversion_time,omitempty"`

	// Financials. Profit is always revenue - cost.
	Revenue float64 `json:"revenue"`
	Cost    float64 `json:"cost"`
	Profit  float64 `json:"profit"`
}

// Macro holds the sub-parameter values captured with a click plus
// denormalized entity names used when templating postback URLs.
// Owned 1:1 by its click.
type Macro struct {
	ClickID   string    `json:"click_id"`
	Timestamp time.Time `json:"timestamp"`

	// Subs maps canonical sub names ("sub1".."sub23", extensible)
	// to the values extracted from the inbound query.
	Subs map[string]string `json:"subs,omitempty"`

	CampaignName       string `json:"campaign_name,omitempty"`
	TrafficChannelName string `json:"traffic_channel_name,omitempty"`
	OfferName          string `json:"offer_name,omitempty"`
}
