package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/clickpath/internal/models"
)

// In-memory implementations back the tracker when Postgres is
// unavailable and drive the test suite.

// =============================================
// ENTITIES
// =============================================

// InMemoryEntityRepo holds funnel entities in maps.
type InMemoryEntityRepo struct {
	mu           sync.RWMutex
	campaigns    map[int64]*models.Campaign
	byUniqueID   map[string]int64
	channels     map[int64]*models.TrafficChannel
	landers      map[int64]*models.Lander
	offers       map[int64]*models.Offer
	offerSources map[int64]*models.OfferSource
}

// NewInMemoryEntityRepo creates an empty entity repo.
func NewInMemoryEntityRepo() *InMemoryEntityRepo {
	return &InMemoryEntityRepo{
		campaigns:    make(map[int64]*models.Campaign),
		byUniqueID:   make(map[string]int64),
		channels:     make(map[int64]*models.TrafficChannel),
		landers:      make(map[int64]*models.Lander),
		offers:       make(map[int64]*models.Offer),
		offerSources: make(map[int64]*models.OfferSource),
	}
}

// PutCampaign seeds a campaign.
func (r *InMemoryEntityRepo) PutCampaign(c *models.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	if c.UniqueID != "" {
		r.byUniqueID[c.UniqueID] = c.ID
	}
}

// PutTrafficChannel seeds a traffic channel.
func (r *InMemoryEntityRepo) PutTrafficChannel(tc *models.TrafficChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[tc.ID] = tc
}

// PutLander seeds a lander.
func (r *InMemoryEntityRepo) PutLander(l *models.Lander) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.landers[l.ID] = l
}

// PutOffer seeds an offer.
func (r *InMemoryEntityRepo) PutOffer(o *models.Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers[o.ID] = o
}

// PutOfferSource seeds an offer source.
func (r *InMemoryEntityRepo) PutOfferSource(s *models.OfferSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offerSources[s.ID] = s
}

func (r *InMemoryEntityRepo) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *InMemoryEntityRepo) GetCampaignByUniqueID(ctx context.Context, uniqueID string) (*models.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUniqueID[uniqueID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.campaigns[id], nil
}

func (r *InMemoryEntityRepo) GetTrafficChannel(ctx context.Context, id int64) (*models.TrafficChannel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tc, nil
}

func (r *InMemoryEntityRepo) GetLander(ctx context.Context, id int64) (*models.Lander, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.landers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

func (r *InMemoryEntityRepo) GetOffer(ctx context.Context, id int64) (*models.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (r *InMemoryEntityRepo) GetOfferSource(ctx context.Context, id int64) (*models.OfferSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.offerSources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// =============================================
// CLICKS
// =============================================

// InMemoryClickRepo stores clicks and macros in maps.
type InMemoryClickRepo struct {
	mu     sync.RWMutex
	clicks map[string]*models.Click
	macros map[string]*models.Macro
}

// NewInMemoryClickRepo creates an empty click repo.
func NewInMemoryClickRepo() *InMemoryClickRepo {
	return &InMemoryClickRepo{
		clicks: make(map[string]*models.Click),
		macros: make(map[string]*models.Macro),
	}
}

func (r *InMemoryClickRepo) SaveClick(ctx context.Context, click *models.Click) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *click
	r.clicks[click.ID] = &cp
	return nil
}

func (r *InMemoryClickRepo) GetClick(ctx context.Context, id string) (*models.Click, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clicks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryClickRepo) AttachMacro(ctx context.Context, m *models.Macro) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clicks[m.ClickID]; !ok {
		return ErrNotFound
	}
	cp := *m
	r.macros[m.ClickID] = &cp
	return nil
}

func (r *InMemoryClickRepo) GetMacro(ctx context.Context, clickID string) (*models.Macro, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.macros[clickID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *InMemoryClickRepo) MarkLanderViewed(ctx context.Context, clickID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clicks[clickID]
	if !ok {
		return false, ErrNotFound
	}
	if c.LandingPageViewed {
		return false, nil
	}
	c.LandingPageViewed = true
	t := at
	c.LPViewTime = &t
	return true, nil
}

func (r *InMemoryClickRepo) MarkConverted(ctx context.Context, clickID string, at time.Time, revenue, profit float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clicks[clickID]
	if !ok {
		return false, ErrNotFound
	}
	if c.Converted {
		return false, nil
	}
	c.Converted = true
	t := at
	c.ConversionTime = &t
	c.Revenue = revenue
	c.Profit = profit
	return true, nil
}

func (r *InMemoryClickRepo) CountryBreakdown(ctx context.Context, start, end time.Time) ([]*CountryStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byCountry := make(map[string]*CountryStats)
	for _, c := range r.clicks {
		if c.Timestamp.Before(start) || !c.Timestamp.Before(end) {
			continue
		}
		st, ok := byCountry[c.Country]
		if !ok {
			st = &CountryStats{Country: c.Country}
			byCountry[c.Country] = st
		}
		st.Clicks++
		if c.LandingPageViewed {
			st.LPViews++
		}
		if c.Converted {
			st.Conversions++
			st.Revenue += c.Revenue
		}
		st.Cost += c.Cost
	}

	result := make([]*CountryStats, 0, len(byCountry))
	for _, st := range byCountry {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Clicks > result[j].Clicks })
	return result, nil
}

// =============================================
// CONVERSIONS
// =============================================

// InMemoryConversionRepo stores the conversion log keyed by click.
type InMemoryConversionRepo struct {
	mu      sync.RWMutex
	byClick map[string]*models.Conversion
	byID    map[string]*models.Conversion
	logs    []*models.PostbackLog
}

// NewInMemoryConversionRepo creates an empty conversion repo.
func NewInMemoryConversionRepo() *InMemoryConversionRepo {
	return &InMemoryConversionRepo{
		byClick: make(map[string]*models.Conversion),
		byID:    make(map[string]*models.Conversion),
	}
}

func (r *InMemoryConversionRepo) InsertOrGet(ctx context.Context, conv *models.Conversion) (*models.Conversion, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byClick[conv.ClickID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *conv
	r.byClick[conv.ClickID] = &cp
	r.byID[conv.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r *InMemoryConversionRepo) GetByClick(ctx context.Context, clickID string) (*models.Conversion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byClick[clickID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *InMemoryConversionRepo) UpdatePostbackResult(ctx context.Context, conversionID string, sent bool, response string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[conversionID]
	if !ok {
		return ErrNotFound
	}
	conv.PostbackSent = sent
	conv.PostbackResponse = response
	return nil
}

func (r *InMemoryConversionRepo) SavePostbackLog(ctx context.Context, log *models.PostbackLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.logs = append(r.logs, &cp)
	return nil
}

// PostbackLogs returns the raw log, newest last. Test helper.
func (r *InMemoryConversionRepo) PostbackLogs() []*models.PostbackLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.PostbackLog, len(r.logs))
	copy(out, r.logs)
	return out
}

// =============================================
// ROLLUPS
// =============================================

// InMemoryRollupRepo stores rollup rows in a mutex-guarded map. The
// mutex makes each increment an atomic read-modify-write, matching the
// contract the SQL implementation gets from its upsert.
type InMemoryRollupRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Rollup
}

// NewInMemoryRollupRepo creates an empty rollup repo.
func NewInMemoryRollupRepo() *InMemoryRollupRepo {
	return &InMemoryRollupRepo{rows: make(map[string]*models.Rollup)}
}

func (r *InMemoryRollupRepo) Increment(ctx context.Context, key models.RollupKey, delta models.RollupDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[key.String()]
	if !ok {
		row = &models.Rollup{RollupKey: key}
		r.rows[key.String()] = row
	}
	row.Apply(delta)
	return nil
}

func (r *InMemoryRollupRepo) Get(ctx context.Context, key models.RollupKey) (*models.Rollup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *InMemoryRollupRepo) Query(ctx context.Context, f RollupFilter) ([]*models.Rollup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.Rollup
	for _, row := range r.rows {
		if row.Date.Before(f.Start) || row.Date.After(f.End) {
			continue
		}
		if f.Hourly != (row.Hour != models.HourAll) {
			continue
		}
		if !matchesDimension(row.DimSet, f.Dimension) {
			continue
		}
		cp := *row
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].Hour < result[j].Hour
	})
	return result, nil
}

// Len returns the number of distinct rollup rows. Test helper.
func (r *InMemoryRollupRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// matchesDimension reports whether the row is keyed by exactly the one
// named dimension. The empty dimension selects campaign-level rows.
func matchesDimension(d models.DimSet, dim string) bool {
	switch dim {
	case "traffic_channel":
		return d.TrafficChannelID != 0 && d.CampaignID == 0 && d.LanderID == 0 && d.OfferID == 0 && d.OfferSourceID == 0
	case "lander":
		return d.LanderID != 0 && d.CampaignID == 0 && d.TrafficChannelID == 0 && d.OfferID == 0 && d.OfferSourceID == 0
	case "offer":
		return d.OfferID != 0 && d.CampaignID == 0 && d.TrafficChannelID == 0 && d.LanderID == 0 && d.OfferSourceID == 0
	case "offer_source":
		return d.OfferSourceID != 0 && d.CampaignID == 0 && d.TrafficChannelID == 0 && d.LanderID == 0 && d.OfferID == 0
	default:
		// campaign, day and hour reporting all read campaign-level rows
		return d.CampaignID != 0 && d.TrafficChannelID == 0 && d.LanderID == 0 && d.OfferID == 0 && d.OfferSourceID == 0
	}
}

// =============================================
// EVENT ARCHIVE
// =============================================

// NopArchive discards events; used when ClickHouse is disabled.
type NopArchive struct{}

func (NopArchive) Archive(ctx context.Context, ev *models.RawEvent) error { return nil }
func (NopArchive) Close() error                                           { return nil }

// InMemoryArchive keeps events in a slice. Test helper.
type InMemoryArchive struct {
	mu     sync.Mutex
	events []*models.RawEvent
}

func NewInMemoryArchive() *InMemoryArchive {
	return &InMemoryArchive{}
}

func (a *InMemoryArchive) Archive(ctx context.Context, ev *models.RawEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *ev
	a.events = append(a.events, &cp)
	return nil
}

func (a *InMemoryArchive) Close() error { return nil }

// Events returns archived events in arrival order.
func (a *InMemoryArchive) Events() []*models.RawEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*models.RawEvent, len(a.events))
	copy(out, a.events)
	return out
}
