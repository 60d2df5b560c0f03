package models

import (
	"fmt"
	"time"
)

// EventType names a tracked funnel event.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventLPView     EventType = "lpview"
	EventLPClick    EventType = "lpclick"
	EventConversion EventType = "conversion"
)

// HourAll marks a daily-granularity rollup row.
const HourAll = -1

// DimSet is a combination of entity dimensions a rollup row is keyed by.
// A zero field is a wildcard: the row aggregates across that dimension.
type DimSet struct {
	CampaignID       int64 `json:"campaign_id,omitempty"`
	TrafficChannelID int64 `json:"traffic_channel_id,omitempty"`
	LanderID         int64 `json:"lander_id,omitempty"`
	OfferID          int64 `json:"offer_id,omitempty"`
	OfferSourceID    int64 `json:"offer_source_id,omitempty"`
}

// IsEmpty reports whether no dimension is set.
func (d DimSet) IsEmpty() bool {
	return d == DimSet{}
}

// RollupKey identifies one pre-aggregated counter row: a dimension
// subset plus a time bucket. Hour is HourAll for daily rows, 0-23
// for hourly rows. Date is always midnight UTC.
type RollupKey struct {
	DimSet
	Date time.Time `json:"date"`
	Hour int       `json:"hour"`
}

// String returns a stable map key for in-memory stores.
func (k RollupKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%d:%d:%s:%d",
		k.CampaignID, k.TrafficChannelID, k.LanderID, k.OfferID, k.OfferSourceID,
		k.Date.Format("2006-01-02"), k.Hour)
}

// RollupDelta carries counter increments for one event.
type RollupDelta struct {
	Impressions int64
	Clicks      int64
	LPViews     int64
	LPClicks    int64
	Conversions int64
	Revenue     float64
	Cost        float64
}

// Rollup is one pre-aggregated counter row. The ratio fields are
// derived from the counters and recomputed on every write; they are
// never a source of truth.
type Rollup struct {
	RollupKey

	Impressions  int64   `json:"impressions"`
	Clicks       int64   `json:"clicks"`
	LPViews      int64   `json:"lpviews"`
	LPClicks     int64   `json:"lpclicks"`
	Conversions  int64   `json:"conversions"`
	TotalRevenue float64 `json:"total_revenue"`
	TotalCost    float64 `json:"total_cost"`
	Profit       float64 `json:"profit"`

	CTR      float64 `json:"ctr"`
	CR       float64 `json:"cr"`
	OfferCR  float64 `json:"offer_cr"`
	CPC      float64 `json:"cpc"`
	CPM      float64 `json:"cpm"`
	ROI      float64 `json:"roi"`
	EPC      float64 `json:"epc"`
	LPEPC    float64 `json:"lpepc"`
	CTC      float64 `json:"ctc"`
	TotalCPA float64 `json:"total_cpa"`
	TotalROI float64 `json:"total_roi"`
}

// Apply adds the delta to the counters and recomputes derived ratios.
func (r *Rollup) Apply(d RollupDelta) {
	r.Impressions += d.Impressions
	r.Clicks += d.Clicks
	r.LPViews += d.LPViews
	r.LPClicks += d.LPClicks
	r.Conversions += d.Conversions
	r.TotalRevenue += d.Revenue
	r.TotalCost += d.Cost
	r.Recompute()
}

// Recompute refreshes every derived ratio from the current counters.
// All divisions are guarded; a zero denominator yields 0.
func (r *Rollup) Recompute() {
	r.Profit = r.TotalRevenue - r.TotalCost

	r.CTR = ratio(float64(r.Clicks), float64(r.Impressions)) * 100
	r.CR = ratio(float64(r.Conversions), float64(r.Clicks)) * 100
	r.OfferCR = ratio(float64(r.Conversions), float64(r.LPViews)) * 100
	r.CPC = ratio(r.TotalCost, float64(r.Clicks))
	r.CPM = ratio(r.TotalCost, float64(r.Impressions)) * 1000
	r.ROI = ratio(r.TotalRevenue-r.TotalCost, r.TotalCost) * 100
	r.EPC = ratio(r.TotalRevenue, float64(r.Clicks))
	r.LPEPC = ratio(r.TotalRevenue, float64(r.LPViews))
	r.CTC = ratio(r.TotalCost, float64(r.Conversions))
	r.TotalCPA = r.CTC
	r.TotalROI = r.ROI
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}
