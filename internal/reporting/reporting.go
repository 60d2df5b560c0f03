// Package reporting serves aggregate metrics from the pre-computed
// rollup rows. Nothing here scans raw clicks except the country
// breakdown, which is not carried in the rollup dimensions.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/radiusdt/clickpath/internal/models"
	"github.com/radiusdt/clickpath/internal/storage"
)

// ErrBadDimension rejects an unsupported report grouping.
var ErrBadDimension = errors.New("unsupported report dimension")

const defaultRange = 30 * 24 * time.Hour

// Dimensions lists the supported report groupings.
var Dimensions = []string{
	"campaign", "traffic_channel", "lander", "offer", "offer_source",
	"day", "hour", "country",
}

// Service answers report queries.
type Service struct {
	rollups storage.RollupRepo
	clicks  storage.ClickRepo
}

func NewService(rollups storage.RollupRepo, clicks storage.ClickRepo) *Service {
	return &Service{rollups: rollups, clicks: clicks}
}

// Request selects a report. Zero dates default to the last 30 days.
type Request struct {
	Start     time.Time
	End       time.Time
	Dimension string
}

// Row is one report line with every derived metric materialized.
type Row struct {
	Label string `json:"label"`

	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	LPViews     int64 `json:"lpviews"`
	LPClicks    int64 `json:"lpclicks"`
	Conversions int64 `json:"conversions"`

	Revenue float64 `json:"revenue"`
	Cost    float64 `json:"cost"`
	Profit  float64 `json:"profit"`

	CTR     float64 `json:"ctr"`
	CR      float64 `json:"cr"`
	OfferCR float64 `json:"offer_cr"`
	CPC     float64 `json:"cpc"`
	CPM     float64 `json:"cpm"`
	ROI     float64 `json:"roi"`
	EPC     float64 `json:"epc"`
	LPEPC   float64 `json:"lpepc"`
	CPA     float64 `json:"cpa"`
}

// Report is the query result. Summary totals the whole range.
type Report struct {
	Dimension string    `json:"dimension"`
	Start     time.Time `json:"startDate"`
	End       time.Time `json:"endDate"`
	Rows      []*Row    `json:"breakdown"`
	Summary   *Row      `json:"summary"`
}

// Build runs the report.
func (s *Service) Build(ctx context.Context, req *Request) (*Report, error) {
	start, end := normalizeRange(req.Start, req.End)

	var (
		rows []*Row
		err  error
	)
	switch req.Dimension {
	case "", "campaign", "traffic_channel", "lander", "offer", "offer_source":
		rows, err = s.entityRows(ctx, req.Dimension, start, end)
	case "day":
		rows, err = s.dayRows(ctx, start, end)
	case "hour":
		rows, err = s.hourRows(ctx, start, end)
	case "country":
		rows, err = s.countryRows(ctx, start, end)
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadDimension, req.Dimension)
	}
	if err != nil {
		return nil, err
	}

	summary, err := s.Summary(ctx, start, end)
	if err != nil {
		return nil, err
	}

	dim := req.Dimension
	if dim == "" {
		dim = "campaign"
	}
	return &Report{
		Dimension: dim,
		Start:     start,
		End:       end,
		Rows:      rows,
		Summary:   summary,
	}, nil
}

// Summary totals the range. Campaign-level daily rows sum to the
// account total because every event carries exactly one campaign.
func (s *Service) Summary(ctx context.Context, start, end time.Time) (*Row, error) {
	rollups, err := s.rollups.Query(ctx, storage.RollupFilter{
		Start: start, End: end, Dimension: "campaign",
	})
	if err != nil {
		return nil, fmt.Errorf("query summary rollups: %w", err)
	}

	var total models.Rollup
	for _, r := range rollups {
		total.Apply(models.RollupDelta{
			Impressions: r.Impressions,
			Clicks:      r.Clicks,
			LPViews:     r.LPViews,
			LPClicks:    r.LPClicks,
			Conversions: r.Conversions,
			Revenue:     r.TotalRevenue,
			Cost:        r.TotalCost,
		})
	}
	return rowFromRollup("total", &total), nil
}

func (s *Service) entityRows(ctx context.Context, dim string, start, end time.Time) ([]*Row, error) {
	if dim == "" {
		dim = "campaign"
	}
	rollups, err := s.rollups.Query(ctx, storage.RollupFilter{
		Start: start, End: end, Dimension: dim,
	})
	if err != nil {
		return nil, fmt.Errorf("query %s rollups: %w", dim, err)
	}

	grouped := make(map[int64]*models.Rollup)
	for _, r := range rollups {
		id := entityID(r.DimSet, dim)
		accumulate(grouped, id, r)
	}
	return sortedRows(grouped, func(id int64) string {
		return strconv.FormatInt(id, 10)
	}), nil
}

func (s *Service) dayRows(ctx context.Context, start, end time.Time) ([]*Row, error) {
	rollups, err := s.rollups.Query(ctx, storage.RollupFilter{
		Start: start, End: end, Dimension: "campaign",
	})
	if err != nil {
		return nil, fmt.Errorf("query daily rollups: %w", err)
	}

	grouped := make(map[int64]*models.Rollup)
	for _, r := range rollups {
		accumulate(grouped, r.Date.Unix(), r)
	}
	return sortedRows(grouped, func(ts int64) string {
		return time.Unix(ts, 0).UTC().Format("2006-01-02")
	}), nil
}

func (s *Service) hourRows(ctx context.Context, start, end time.Time) ([]*Row, error) {
	rollups, err := s.rollups.Query(ctx, storage.RollupFilter{
		Start: start, End: end, Dimension: "campaign", Hourly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query hourly rollups: %w", err)
	}

	grouped := make(map[int64]*models.Rollup)
	for _, r := range rollups {
		accumulate(grouped, int64(r.Hour), r)
	}
	return sortedRows(grouped, func(h int64) string {
		return fmt.Sprintf("%02d:00", h)
	}), nil
}

func (s *Service) countryRows(ctx context.Context, start, end time.Time) ([]*Row, error) {
	// rollups carry no geo dimension; countries come from the clicks table
	stats, err := s.clicks.CountryBreakdown(ctx, start, end.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("country breakdown: %w", err)
	}

	rows := make([]*Row, 0, len(stats))
	for _, st := range stats {
		var r models.Rollup
		r.Apply(models.RollupDelta{
			Clicks:      st.Clicks,
			LPViews:     st.LPViews,
			Conversions: st.Conversions,
			Revenue:     st.Revenue,
			Cost:        st.Cost,
		})
		rows = append(rows, rowFromRollup(st.Country, &r))
	}
	return rows, nil
}

func accumulate(grouped map[int64]*models.Rollup, id int64, r *models.Rollup) {
	acc, ok := grouped[id]
	if !ok {
		acc = &models.Rollup{}
		grouped[id] = acc
	}
	acc.Apply(models.RollupDelta{
		Impressions: r.Impressions,
		Clicks:      r.Clicks,
		LPViews:     r.LPViews,
		LPClicks:    r.LPClicks,
		Conversions: r.Conversions,
		Revenue:     r.TotalRevenue,
		Cost:        r.TotalCost,
	})
}

func sortedRows(grouped map[int64]*models.Rollup, label func(int64) string) []*Row {
	ids := make([]int64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]*Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, rowFromRollup(label(id), grouped[id]))
	}
	return rows
}

func rowFromRollup(label string, r *models.Rollup) *Row {
	return &Row{
		Label:       label,
		Impressions: r.Impressions,
		Clicks:      r.Clicks,
		LPViews:     r.LPViews,
		LPClicks:    r.LPClicks,
		Conversions: r.Conversions,
		Revenue:     r.TotalRevenue,
		Cost:        r.TotalCost,
		Profit:      r.Profit,
		CTR:         r.CTR,
		CR:          r.CR,
		OfferCR:     r.OfferCR,
		CPC:         r.CPC,
		CPM:         r.CPM,
		ROI:         r.ROI,
		EPC:         r.EPC,
		LPEPC:       r.LPEPC,
		CPA:         r.CTC,
	}
}

func entityID(d models.DimSet, dim string) int64 {
	switch dim {
	case "traffic_channel":
		return d.TrafficChannelID
	case "lander":
		return d.LanderID
	case "offer":
		return d.OfferID
	case "offer_source":
		return d.OfferSourceID
	default:
		return d.CampaignID
	}
}

// normalizeRange defaults the window to the last 30 days and snaps
// both bounds to midnight UTC, matching the rollup date buckets.
func normalizeRange(start, end time.Time) (time.Time, time.Time) {
	if end.IsZero() {
		end = time.Now()
	}
	end = midnight(end)
	if start.IsZero() {
		start = end.Add(-defaultRange)
	} else {
		start = midnight(start)
	}
	return start, end
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
