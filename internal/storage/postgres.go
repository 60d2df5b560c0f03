package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/clickpath/internal/models"
)

// schema is applied on startup. Dimension columns in rollups use 0 as
// the wildcard value so the unique index covers every subset row.
const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id BIGSERIAL PRIMARY KEY,
	unique_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	traffic_channel_id BIGINT NOT NULL DEFAULT 0,
	domain_id BIGINT NOT NULL DEFAULT 0,
	lander_id BIGINT NOT NULL DEFAULT 0,
	offer_id BIGINT NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT true,
	direct_linking BOOLEAN NOT NULL DEFAULT false,
	promoting_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS traffic_channels (
	id BIGSERIAL PRIMARY KEY,
	channel_name TEXT NOT NULL DEFAULT '',
	macro_format JSONB NOT NULL DEFAULT '{}',
	postback_url TEXT NOT NULL DEFAULT '',
	s2s_postback_url TEXT NOT NULL DEFAULT '',
	cost_per_click DOUBLE PRECISION NOT NULL DEFAULT 0,
	pixel_id TEXT NOT NULL DEFAULT '',
	api_token TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS landers (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS offers (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	offer_source_id BIGINT NOT NULL DEFAULT 0,
	payout DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS offer_sources (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	postback_param TEXT NOT NULL DEFAULT '',
	payout DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS clicks (
	id UUID PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	campaign_id BIGINT NOT NULL DEFAULT 0,
	traffic_channel_id BIGINT NOT NULL DEFAULT 0,
	lander_id BIGINT NOT NULL DEFAULT 0,
	offer_id BIGINT NOT NULL DEFAULT 0,
	offer_source_id BIGINT NOT NULL DEFAULT 0,
	domain_id BIGINT NOT NULL DEFAULT 0,
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	referer TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	os TEXT NOT NULL DEFAULT '',
	browser TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	landing_page_viewed BOOLEAN NOT NULL DEFAULT false,
	lp_view_time TIMESTAMPTZ,
	converted BOOLEAN NOT NULL DEFAULT false,
	conversion_time TIMESTAMPTZ,
	revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	profit DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_clicks_ts ON clicks (ts);
CREATE INDEX IF NOT EXISTS idx_clicks_campaign ON clicks (campaign_id, ts);

CREATE TABLE IF NOT EXISTS macros (
	click_id UUID PRIMARY KEY REFERENCES clicks(id) ON DELETE CASCADE,
	ts TIMESTAMPTZ NOT NULL,
	subs JSONB NOT NULL DEFAULT '{}',
	campaign_name TEXT NOT NULL DEFAULT '',
	traffic_channel_name TEXT NOT NULL DEFAULT '',
	offer_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversions (
	id UUID PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	click_id UUID NOT NULL UNIQUE,
	campaign_id BIGINT NOT NULL DEFAULT 0,
	traffic_channel_id BIGINT NOT NULL DEFAULT 0,
	offer_id BIGINT NOT NULL DEFAULT 0,
	payout DOUBLE PRECISION NOT NULL DEFAULT 0,
	revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT '',
	event_name TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	postback_sent BOOLEAN NOT NULL DEFAULT false,
	postback_response TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS postback_logs (
	id UUID PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	offer_source_id BIGINT NOT NULL DEFAULT 0,
	click_id TEXT NOT NULL DEFAULT '',
	sum DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT '',
	params JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rollups (
	campaign_id BIGINT NOT NULL DEFAULT 0,
	traffic_channel_id BIGINT NOT NULL DEFAULT 0,
	lander_id BIGINT NOT NULL DEFAULT 0,
	offer_id BIGINT NOT NULL DEFAULT 0,
	offer_source_id BIGINT NOT NULL DEFAULT 0,
	date DATE NOT NULL,
	hour SMALLINT NOT NULL,
	impressions BIGINT NOT NULL DEFAULT 0,
	clicks BIGINT NOT NULL DEFAULT 0,
	lpviews BIGINT NOT NULL DEFAULT 0,
	lpclicks BIGINT NOT NULL DEFAULT 0,
	conversions BIGINT NOT NULL DEFAULT 0,
	total_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	profit DOUBLE PRECISION NOT NULL DEFAULT 0,
	ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
	cr DOUBLE PRECISION NOT NULL DEFAULT 0,
	offer_cr DOUBLE PRECISION NOT NULL DEFAULT 0,
	cpc DOUBLE PRECISION NOT NULL DEFAULT 0,
	cpm DOUBLE PRECISION NOT NULL DEFAULT 0,
	roi DOUBLE PRECISION NOT NULL DEFAULT 0,
	epc DOUBLE PRECISION NOT NULL DEFAULT 0,
	lpepc DOUBLE PRECISION NOT NULL DEFAULT 0,
	ctc DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (campaign_id, traffic_channel_id, lander_id, offer_id, offer_source_id, date, hour)
);
CREATE INDEX IF NOT EXISTS idx_rollups_date ON rollups (date, hour);
`

// EnsureSchema creates the tracking tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// =============================================
// ENTITIES
// =============================================

// PostgresEntityRepo reads funnel entities from Postgres.
type PostgresEntityRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresEntityRepo(pool *pgxpool.Pool) *PostgresEntityRepo {
	return &PostgresEntityRepo{pool: pool}
}

const campaignCols = `id, unique_id, name, traffic_channel_id, domain_id, lander_id, offer_id,
	is_active, direct_linking, promoting_url, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.UniqueID, &c.Name, &c.TrafficChannelID, &c.DomainID,
		&c.LanderID, &c.OfferID, &c.IsActive, &c.DirectLinking, &c.PromotingURL,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return &c, nil
}

func (r *PostgresEntityRepo) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id))
}

func (r *PostgresEntityRepo) GetCampaignByUniqueID(ctx context.Context, uniqueID string) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE unique_id = $1`, uniqueID))
}

func (r *PostgresEntityRepo) GetTrafficChannel(ctx context.Context, id int64) (*models.TrafficChannel, error) {
	var tc models.TrafficChannel
	var format []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, channel_name, macro_format, postback_url, s2s_postback_url,
			cost_per_click, pixel_id, api_token, created_at, updated_at
		 FROM traffic_channels WHERE id = $1`, id).
		Scan(&tc.ID, &tc.ChannelName, &format, &tc.PostbackURL, &tc.S2SPostbackURL,
			&tc.CostPerClick, &tc.PixelID, &tc.APIToken, &tc.CreatedAt, &tc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get traffic channel %d: %w", id, err)
	}
	if len(format) > 0 {
		if err := json.Unmarshal(format, &tc.MacroFormat); err != nil {
			return nil, fmt.Errorf("decode macro format for channel %d: %w", id, err)
		}
	}
	return &tc, nil
}

func (r *PostgresEntityRepo) GetLander(ctx context.Context, id int64) (*models.Lander, error) {
	var l models.Lander
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, url FROM landers WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &l.URL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lander %d: %w", id, err)
	}
	return &l, nil
}

func (r *PostgresEntityRepo) GetOffer(ctx context.Context, id int64) (*models.Offer, error) {
	var o models.Offer
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, url, offer_source_id, payout FROM offers WHERE id = $1`, id).
		Scan(&o.ID, &o.Name, &o.URL, &o.OfferSourceID, &o.Payout)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer %d: %w", id, err)
	}
	return &o, nil
}

func (r *PostgresEntityRepo) GetOfferSource(ctx context.Context, id int64) (*models.OfferSource, error) {
	var s models.OfferSource
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, postback_param, payout FROM offer_sources WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.PostbackParam, &s.Payout)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer source %d: %w", id, err)
	}
	return &s, nil
}

// =============================================
// CLICKS
// =============================================

// PostgresClickRepo persists clicks and their macros.
type PostgresClickRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresClickRepo(pool *pgxpool.Pool) *PostgresClickRepo {
	return &PostgresClickRepo{pool: pool}
}

func (r *PostgresClickRepo) SaveClick(ctx context.Context, c *models.Click) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO clicks (id, ts, campaign_id, traffic_channel_id, lander_id, offer_id,
			offer_source_id, domain_id, ip, user_agent, referer, device, os, browser,
			country, region, city, landing_page_viewed, lp_view_time, converted,
			conversion_time, revenue, cost, profit)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		c.ID, c.Timestamp, c.CampaignID, c.TrafficChannelID, c.LanderID, c.OfferID,
		c.OfferSourceID, c.DomainID, c.IP, c.UserAgent, c.Referer, c.Device, c.OS, c.Browser,
		c.Country, c.Region, c.City, c.LandingPageViewed, c.LPViewTime, c.Converted,
		c.ConversionTime, c.Revenue, c.Cost, c.Profit)
	if err != nil {
		return fmt.Errorf("insert click %s: %w", c.ID, err)
	}
	return nil
}

func (r *PostgresClickRepo) GetClick(ctx context.Context, id string) (*models.Click, error) {
	var c models.Click
	err := r.pool.QueryRow(ctx,
		`SELECT id, ts, campaign_id, traffic_channel_id, lander_id, offer_id,
			offer_source_id, domain_id, ip, user_agent, referer, device, os, browser,
			country, region, city, landing_page_viewed, lp_view_time, converted,
			conversion_time, revenue, cost, profit
		 FROM clicks WHERE id = $1`, id).
		Scan(&c.ID, &c.Timestamp, &c.CampaignID, &c.TrafficChannelID, &c.LanderID, &c.OfferID,
			&c.OfferSourceID, &c.DomainID, &c.IP, &c.UserAgent, &c.Referer, &c.Device, &c.OS, &c.Browser,
			&c.Country, &c.Region, &c.City, &c.LandingPageViewed, &c.LPViewTime, &c.Converted,
			&c.ConversionTime, &c.Revenue, &c.Cost, &c.Profit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get click %s: %w", id, err)
	}
	return &c, nil
}

func (r *PostgresClickRepo) AttachMacro(ctx context.Context, m *models.Macro) error {
	subs, err := json.Marshal(m.Subs)
	if err != nil {
		return fmt.Errorf("encode subs: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO macros (click_id, ts, subs, campaign_name, traffic_channel_name, offer_name)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (click_id) DO UPDATE SET subs = EXCLUDED.subs`,
		m.ClickID, m.Timestamp, subs, m.CampaignName, m.TrafficChannelName, m.OfferName)
	if err != nil {
		return fmt.Errorf("insert macro for click %s: %w", m.ClickID, err)
	}
	return nil
}

func (r *PostgresClickRepo) GetMacro(ctx context.Context, clickID string) (*models.Macro, error) {
	var m models.Macro
	var subs []byte
	err := r.pool.QueryRow(ctx,
		`SELECT click_id, ts, subs, campaign_name, traffic_channel_name, offer_name
		 FROM macros WHERE click_id = $1`, clickID).
		Scan(&m.ClickID, &m.Timestamp, &subs, &m.CampaignName, &m.TrafficChannelName, &m.OfferName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get macro for click %s: %w", clickID, err)
	}
	if len(subs) > 0 {
		if err := json.Unmarshal(subs, &m.Subs); err != nil {
			return nil, fmt.Errorf("decode subs for click %s: %w", clickID, err)
		}
	}
	return &m, nil
}

// MarkLanderViewed flips the lander-view flag once. The guarded UPDATE
// makes the flip race-free; zero rows affected on an existing click
// means it was already viewed.
func (r *PostgresClickRepo) MarkLanderViewed(ctx context.Context, clickID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE clicks SET landing_page_viewed = true, lp_view_time = $2
		 WHERE id = $1 AND landing_page_viewed = false`, clickID, at)
	if err != nil {
		return false, fmt.Errorf("mark lander viewed %s: %w", clickID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clicks WHERE id = $1)`, clickID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check click %s: %w", clickID, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PostgresClickRepo) MarkConverted(ctx context.Context, clickID string, at time.Time, revenue, profit float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE clicks SET converted = true, conversion_time = $2, revenue = $3, profit = $4
		 WHERE id = $1 AND converted = false`, clickID, at, revenue, profit)
	if err != nil {
		return false, fmt.Errorf("mark converted %s: %w", clickID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clicks WHERE id = $1)`, clickID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check click %s: %w", clickID, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PostgresClickRepo) CountryBreakdown(ctx context.Context, start, end time.Time) ([]*CountryStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT country,
			COUNT(*),
			COUNT(*) FILTER (WHERE landing_page_viewed),
			COUNT(*) FILTER (WHERE converted),
			COALESCE(SUM(revenue) FILTER (WHERE converted), 0),
			COALESCE(SUM(cost), 0)
		 FROM clicks
		 WHERE ts >= $1 AND ts < $2
		 GROUP BY country
		 ORDER BY 2 DESC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("country breakdown: %w", err)
	}
	defer rows.Close()

	var result []*CountryStats
	for rows.Next() {
		var st CountryStats
		if err := rows.Scan(&st.Country, &st.Clicks, &st.LPViews, &st.Conversions,
			&st.Revenue, &st.Cost); err != nil {
			return nil, fmt.Errorf("scan country stats: %w", err)
		}
		result = append(result, &st)
	}
	return result, rows.Err()
}

// =============================================
// CONVERSIONS
// =============================================

// PostgresConversionRepo persists the conversion log.
type PostgresConversionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresConversionRepo(pool *pgxpool.Pool) *PostgresConversionRepo {
	return &PostgresConversionRepo{pool: pool}
}

// InsertOrGet inserts the conversion unless one already exists for the
// click. The unique constraint on click_id and DO NOTHING make repeat
// postbacks return the original row.
func (r *PostgresConversionRepo) InsertOrGet(ctx context.Context, conv *models.Conversion) (*models.Conversion, bool, error) {
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("encode metadata: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO conversions (id, ts, click_id, campaign_id, traffic_channel_id, offer_id,
			payout, revenue, status, event_name, metadata, postback_sent, postback_response)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (click_id) DO NOTHING`,
		conv.ID, conv.Timestamp, conv.ClickID, conv.CampaignID, conv.TrafficChannelID, conv.OfferID,
		conv.Payout, conv.Revenue, conv.Status, conv.EventName, metadata,
		conv.PostbackSent, conv.PostbackResponse)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversion for click %s: %w", conv.ClickID, err)
	}
	if tag.RowsAffected() > 0 {
		return conv, true, nil
	}
	existing, err := r.GetByClick(ctx, conv.ClickID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresConversionRepo) GetByClick(ctx context.Context, clickID string) (*models.Conversion, error) {
	var conv models.Conversion
	var metadata []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, ts, click_id, campaign_id, traffic_channel_id, offer_id,
			payout, revenue, status, event_name, metadata, postback_sent, postback_response
		 FROM conversions WHERE click_id = $1`, clickID).
		Scan(&conv.ID, &conv.Timestamp, &conv.ClickID, &conv.CampaignID, &conv.TrafficChannelID,
			&conv.OfferID, &conv.Payout, &conv.Revenue, &conv.Status, &conv.EventName,
			&metadata, &conv.PostbackSent, &conv.PostbackResponse)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion for click %s: %w", clickID, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for click %s: %w", clickID, err)
		}
	}
	return &conv, nil
}

func (r *PostgresConversionRepo) UpdatePostbackResult(ctx context.Context, conversionID string, sent bool, response string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversions SET postback_sent = $2, postback_response = $3 WHERE id = $1`,
		conversionID, sent, response)
	if err != nil {
		return fmt.Errorf("update postback result %s: %w", conversionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresConversionRepo) SavePostbackLog(ctx context.Context, log *models.PostbackLog) error {
	params, err := json.Marshal(log.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO postback_logs (id, ts, offer_source_id, click_id, sum, currency, params, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		log.ID, log.Timestamp, log.OfferSourceID, log.ClickID, log.Sum, log.Currency, params, log.Status)
	if err != nil {
		return fmt.Errorf("insert postback log: %w", err)
	}
	return nil
}

// =============================================
// ROLLUPS
// =============================================

// PostgresRollupRepo maintains the pre-aggregated counter rows.
type PostgresRollupRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRollupRepo(pool *pgxpool.Pool) *PostgresRollupRepo {
	return &PostgresRollupRepo{pool: pool}
}

// rollupUpsert adds the delta and recomputes every derived ratio from
// the summed counters in the same statement, so concurrent writers
// never observe stale ratios. Divisions are CASE-guarded.
const rollupUpsert = `
INSERT INTO rollups (campaign_id, traffic_channel_id, lander_id, offer_id, offer_source_id,
	date, hour, impressions, clicks, lpviews, lpclicks, conversions,
	total_revenue, total_cost, profit,
	ctr, cr, offer_cr, cpc, cpm, roi, epc, lpepc, ctc)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
ON CONFLICT (campaign_id, traffic_channel_id, lander_id, offer_id, offer_source_id, date, hour)
DO UPDATE SET
	impressions = rollups.impressions + EXCLUDED.impressions,
	clicks = rollups.clicks + EXCLUDED.clicks,
	lpviews = rollups.lpviews + EXCLUDED.lpviews,
	lpclicks = rollups.lpclicks + EXCLUDED.lpclicks,
	conversions = rollups.conversions + EXCLUDED.conversions,
	total_revenue = rollups.total_revenue + EXCLUDED.total_revenue,
	total_cost = rollups.total_cost + EXCLUDED.total_cost,
	profit = (rollups.total_revenue + EXCLUDED.total_revenue) - (rollups.total_cost + EXCLUDED.total_cost),
	ctr = CASE WHEN rollups.impressions + EXCLUDED.impressions > 0
		THEN (rollups.clicks + EXCLUDED.clicks)::float8 / (rollups.impressions + EXCLUDED.impressions) * 100
		ELSE 0 END,
	cr = CASE WHEN rollups.clicks + EXCLUDED.clicks > 0
		THEN (rollups.conversions + EXCLUDED.conversions)::float8 / (rollups.clicks + EXCLUDED.clicks) * 100
		ELSE 0 END,
	offer_cr = CASE WHEN rollups.lpviews + EXCLUDED.lpviews > 0
		THEN (rollups.conversions + EXCLUDED.conversions)::float8 / (rollups.lpviews + EXCLUDED.lpviews) * 100
		ELSE 0 END,
	cpc = CASE WHEN rollups.clicks + EXCLUDED.clicks > 0
		THEN (rollups.total_cost + EXCLUDED.total_cost) / (rollups.clicks + EXCLUDED.clicks)
		ELSE 0 END,
	cpm = CASE WHEN rollups.impressions + EXCLUDED.impressions > 0
		THEN (rollups.total_cost + EXCLUDED.total_cost) / (rollups.impressions + EXCLUDED.impressions) * 1000
		ELSE 0 END,
	roi = CASE WHEN rollups.total_cost + EXCLUDED.total_cost > 0
		THEN ((rollups.total_revenue + EXCLUDED.total_revenue) - (rollups.total_cost + EXCLUDED.total_cost))
			/ (rollups.total_cost + EXCLUDED.total_cost) * 100
		ELSE 0 END,
	epc = CASE WHEN rollups.clicks + EXCLUDED.clicks > 0
		THEN (rollups.total_revenue + EXCLUDED.total_revenue) / (rollups.clicks + EXCLUDED.clicks)
		ELSE 0 END,
	lpepc = CASE WHEN rollups.lpviews + EXCLUDED.lpviews > 0
		THEN (rollups.total_revenue + EXCLUDED.total_revenue) / (rollups.lpviews + EXCLUDED.lpviews)
		ELSE 0 END,
	ctc = CASE WHEN rollups.conversions + EXCLUDED.conversions > 0
		THEN (rollups.total_cost + EXCLUDED.total_cost) / (rollups.conversions + EXCLUDED.conversions)
		ELSE 0 END`

func (r *PostgresRollupRepo) Increment(ctx context.Context, key models.RollupKey, delta models.RollupDelta) error {
	// Derived values for the fresh-row case are computed here; the
	// conflict branch recomputes them from the summed counters.
	row := models.Rollup{RollupKey: key}
	row.Apply(delta)

	_, err := r.pool.Exec(ctx, rollupUpsert,
		key.CampaignID, key.TrafficChannelID, key.LanderID, key.OfferID, key.OfferSourceID,
		key.Date, key.Hour,
		delta.Impressions, delta.Clicks, delta.LPViews, delta.LPClicks, delta.Conversions,
		delta.Revenue, delta.Cost, row.Profit,
		row.CTR, row.CR, row.OfferCR, row.CPC, row.CPM, row.ROI, row.EPC, row.LPEPC, row.CTC)
	if err != nil {
		return fmt.Errorf("increment rollup %s: %w", key.String(), err)
	}
	return nil
}

const rollupCols = `campaign_id, traffic_channel_id, lander_id, offer_id, offer_source_id,
	date, hour, impressions, clicks, lpviews, lpclicks, conversions,
	total_revenue, total_cost, profit, ctr, cr, offer_cr, cpc, cpm, roi, epc, lpepc, ctc`

func scanRollup(row pgx.Row) (*models.Rollup, error) {
	var ru models.Rollup
	err := row.Scan(&ru.CampaignID, &ru.TrafficChannelID, &ru.LanderID, &ru.OfferID, &ru.OfferSourceID,
		&ru.Date, &ru.Hour, &ru.Impressions, &ru.Clicks, &ru.LPViews, &ru.LPClicks, &ru.Conversions,
		&ru.TotalRevenue, &ru.TotalCost, &ru.Profit, &ru.CTR, &ru.CR, &ru.OfferCR,
		&ru.CPC, &ru.CPM, &ru.ROI, &ru.EPC, &ru.LPEPC, &ru.CTC)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rollup: %w", err)
	}
	ru.TotalCPA = ru.CTC
	ru.TotalROI = ru.ROI
	return &ru, nil
}

func (r *PostgresRollupRepo) Get(ctx context.Context, key models.RollupKey) (*models.Rollup, error) {
	return scanRollup(r.pool.QueryRow(ctx,
		`SELECT `+rollupCols+` FROM rollups
		 WHERE campaign_id = $1 AND traffic_channel_id = $2 AND lander_id = $3
		   AND offer_id = $4 AND offer_source_id = $5 AND date = $6 AND hour = $7`,
		key.CampaignID, key.TrafficChannelID, key.LanderID, key.OfferID, key.OfferSourceID,
		key.Date, key.Hour))
}

// dimensionWhere selects rows keyed by exactly one dimension; the
// default (campaign) branch also serves day and hour reports.
func dimensionWhere(dim string) string {
	switch dim {
	case "traffic_channel":
		return `traffic_channel_id <> 0 AND campaign_id = 0 AND lander_id = 0 AND offer_id = 0 AND offer_source_id = 0`
	case "lander":
		return `lander_id <> 0 AND campaign_id = 0 AND traffic_channel_id = 0 AND offer_id = 0 AND offer_source_id = 0`
	case "offer":
		return `offer_id <> 0 AND campaign_id = 0 AND traffic_channel_id = 0 AND lander_id = 0 AND offer_source_id = 0`
	case "offer_source":
		return `offer_source_id <> 0 AND campaign_id = 0 AND traffic_channel_id = 0 AND lander_id = 0 AND offer_id = 0`
	default:
		return `campaign_id <> 0 AND traffic_channel_id = 0 AND lander_id = 0 AND offer_id = 0 AND offer_source_id = 0`
	}
}

func (r *PostgresRollupRepo) Query(ctx context.Context, f RollupFilter) ([]*models.Rollup, error) {
	hourCond := `hour = -1`
	if f.Hourly {
		hourCond = `hour >= 0`
	}
	q := `SELECT ` + rollupCols + ` FROM rollups
		WHERE date >= $1 AND date <= $2 AND ` + hourCond + ` AND ` + dimensionWhere(f.Dimension) + `
		ORDER BY date, hour`

	rows, err := r.pool.Query(ctx, q, f.Start, f.End)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var result []*models.Rollup
	for rows.Next() {
		ru, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ru)
	}
	return result, rows.Err()
}
