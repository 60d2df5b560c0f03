package storage

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/clickpath/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// =============================================
// ENTITY REPOSITORY
// =============================================

// EntityRepo provides read access to funnel entities. Writes happen
// through the management surface, which is outside the tracking core.
type EntityRepo interface {
	GetCampaign(ctx context.Context, id int64) (*models.Campaign, error)
	GetCampaignByUniqueID(ctx context.Context, uniqueID string) (*models.Campaign, error)
	GetTrafficChannel(ctx context.Context, id int64) (*models.TrafficChannel, error)
	GetLander(ctx context.Context, id int64) (*models.Lander, error)
	GetOffer(ctx context.Context, id int64) (*models.Offer, error)
	GetOfferSource(ctx context.Context, id int64) (*models.OfferSource, error)
}

// =============================================
// CLICK REPOSITORY
// =============================================

// ClickRepo stores clicks and their macro records.
type ClickRepo interface {
	SaveClick(ctx context.Context, click *models.Click) error
	GetClick(ctx context.Context, id string) (*models.Click, error)

	// AttachMacro associates the macro record with its click. A click
	// without a macro record is still valid.
	AttachMacro(ctx context.Context, m *models.Macro) error
	GetMacro(ctx context.Context, clickID string) (*models.Macro, error)

	// MarkLanderViewed records the lander view once; it returns false
	// without error when the click was already viewed.
	MarkLanderViewed(ctx context.Context, clickID string, at time.Time) (bool, error)

	// MarkConverted flips the click to converted once; it returns false
	// without error when the click was already converted.
	MarkConverted(ctx context.Context, clickID string, at time.Time, revenue, profit float64) (bool, error)

	// CountryBreakdown aggregates click counters grouped by country
	// over a date range. The one reporting dimension served from raw
	// clicks rather than rollups.
	CountryBreakdown(ctx context.Context, start, end time.Time) ([]*CountryStats, error)
}

// CountryStats is one row of the country reporting breakdown.
type CountryStats struct {
	Country     string  `json:"country"`
	Clicks      int64   `json:"clicks"`
	LPViews     int64   `json:"lpviews"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"total_revenue"`
	Cost        float64 `json:"total_cost"`
}

// =============================================
// CONVERSION REPOSITORY
// =============================================

// ConversionRepo stores the conversion log. One conversion per click.
type ConversionRepo interface {
	// InsertOrGet saves the conversion if none exists for its click and
	// returns it with created=true; otherwise the existing row is
	// returned unchanged with created=false.
	InsertOrGet(ctx context.Context, conv *models.Conversion) (*models.Conversion, bool, error)

	GetByClick(ctx context.Context, clickID string) (*models.Conversion, error)

	// UpdatePostbackResult records the outcome of the outbound postback.
	UpdatePostbackResult(ctx context.Context, conversionID string, sent bool, response string) error

	SavePostbackLog(ctx context.Context, log *models.PostbackLog) error
}

// =============================================
// ROLLUP REPOSITORY
// =============================================

// RollupRepo stores the pre-aggregated counter rows. Increment must be
// atomic per row: concurrent increments on the same key never lose
// updates.
type RollupRepo interface {
	Increment(ctx context.Context, key models.RollupKey, delta models.RollupDelta) error

	// Get fetches one row; ErrNotFound if it does not exist.
	Get(ctx context.Context, key models.RollupKey) (*models.Rollup, error)

	// Query returns rows matching the filter, for reporting.
	Query(ctx context.Context, f RollupFilter) ([]*models.Rollup, error)
}

// RollupFilter selects rollup rows for reporting. Start and End bound
// the date bucket inclusively. Dimension selects rows keyed by exactly
// that single dimension ("campaign", "traffic_channel", "lander",
// "offer"); empty selects campaign-level rows, which cover every event
// exactly once and therefore sum to the totals.
type RollupFilter struct {
	Start     time.Time
	End       time.Time
	Dimension string
	Hourly    bool
}

// =============================================
// EVENT ARCHIVE
// =============================================

// EventArchive appends raw events to the analytics store. Archive
// failures are logged by callers, never propagated to request paths.
type EventArchive interface {
	Archive(ctx context.Context, ev *models.RawEvent) error
	Close() error
}
