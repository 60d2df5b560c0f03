package models

import (
	"time"
)

// Conversion logs one attributed conversion event. At most one
// conversion exists per click; a repeated postback for the same click
// returns the existing row unchanged.
type Conversion struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	ClickID          string `json:"click_id"`
	CampaignID       int64  `json:"campaign_id"`
	TrafficChannelID int64  `json:"traffic_channel_id"`
	OfferID          int64  `json:"offer_id,omitempty"`

	Payout    float64 `json:"payout"`
	Revenue   float64 `json:"revenue"`
	Status    string  `json:"status,omitempty"`
	EventName string  `json:"event_name,omitempty"`

	// Raw postback parameters, kept for replay/debugging.
	Metadata map[string]string `json:"metadata,omitempty"`

	PostbackSent     bool   `json:"postback_sent"`
	PostbackResponse string `json:"postback_response,omitempty"`
}

// PostbackLog records a raw inbound postback before attribution runs.
type PostbackLog struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	OfferSourceID int64             `json:"offer_source_id"`
	ClickID       string            `json:"click_id"`
	Sum           float64           `json:"sum"`
	Currency      string            `json:"currency,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	Status        string            `json:"status"`
}

// RawEvent is the archive record appended to the analytics store for
// every tracked event. Never read on the reporting path.
type RawEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType EventType         `json:"event_type"`
	ClickID   string            `json:"click_id"`
	Dims      DimSet            `json:"dims"`
	Country   string            `json:"country,omitempty"`
	Device    string            `json:"device,omitempty"`
	Revenue   float64           `json:"revenue"`
	Cost      float64           `json:"cost"`
	Params    map[string]string `json:"params,omitempty"`
}
