// Package tracker records inbound clicks and resolves where each visit
// is sent next: the campaign's lander, or straight to the offer when
// direct linking is on.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/geo"
	"github.com/radiusdt/clickpath/internal/macro"
	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/models"
	"github.com/radiusdt/clickpath/internal/rollup"
	"github.com/radiusdt/clickpath/internal/storage"
	"github.com/radiusdt/clickpath/internal/useragent"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrCampaignInactive = errors.New("campaign inactive")
	ErrClickNotFound    = errors.New("click not found")
	// ErrNoRedirectTarget means the click was recorded but the campaign
	// has neither a lander nor an offer to send the visitor to.
	ErrNoRedirectTarget = errors.New("campaign has no redirect target")
)

// Tracker is the click-recording service.
type Tracker struct {
	entities storage.EntityRepo
	clicks   storage.ClickRepo
	agg      *rollup.Aggregator
	geo      *geo.Resolver
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func New(entities storage.EntityRepo, clicks storage.ClickRepo, agg *rollup.Aggregator, geoResolver *geo.Resolver, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		entities: entities,
		clicks:   clicks,
		agg:      agg,
		geo:      geoResolver,
		logger:   logger,
		metrics:  m,
	}
}

// ClickRequest carries the inbound hit. A non-zero TrafficChannelID
// overrides the campaign's configured channel for this click.
type ClickRequest struct {
	CampaignUID      string
	TrafficChannelID int64
	IP               string
	UserAgent        string
	Referer          string
	Query            url.Values
}

// ClickResult is the recorded click plus the resolved destination.
// RedirectURL is empty when the campaign has no target; the click is
// still persisted in that case.
type ClickResult struct {
	Click       *models.Click
	RedirectURL string
}

// HandleClick records the visit and resolves its destination.
func (t *Tracker) HandleClick(ctx context.Context, req *ClickRequest) (*ClickResult, error) {
	campaign, err := t.entities.GetCampaignByUniqueID(ctx, req.CampaignUID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup campaign %s: %w", req.CampaignUID, err)
	}
	if !campaign.IsActive {
		return nil, ErrCampaignInactive
	}

	channelID := campaign.TrafficChannelID
	if req.TrafficChannelID != 0 {
		channelID = req.TrafficChannelID
	}
	var channel *models.TrafficChannel
	if channelID != 0 {
		channel, err = t.entities.GetTrafficChannel(ctx, channelID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("lookup traffic channel %d: %w", channelID, err)
		}
	}

	var offer *models.Offer
	if campaign.OfferID != 0 {
		offer, err = t.entities.GetOffer(ctx, campaign.OfferID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("lookup offer %d: %w", campaign.OfferID, err)
		}
	}

	ua := useragent.Parse(req.UserAgent)
	loc := t.geo.Resolve(req.IP)

	now := time.Now().UTC()
	click := &models.Click{
		ID:               uuid.New().String(),
		Timestamp:        now,
		CampaignID:       campaign.ID,
		TrafficChannelID: channelID,
		LanderID:         campaign.LanderID,
		OfferID:          campaign.OfferID,
		DomainID:         campaign.DomainID,
		IP:               req.IP,
		UserAgent:        req.UserAgent,
		Referer:          req.Referer,
		Device:           ua.Device,
		OS:               ua.OS,
		Browser:          ua.Browser,
		Country:          loc.Country,
		Region:           loc.Region,
		City:             loc.City,
	}
	if offer != nil {
		click.OfferSourceID = offer.OfferSourceID
	}
	if channel != nil {
		click.Cost = channel.CostPerClick
		click.Profit = -channel.CostPerClick
	}

	if err := t.clicks.SaveClick(ctx, click); err != nil {
		t.metrics.RecordTrackingError("save_click")
		return nil, fmt.Errorf("save click: %w", err)
	}

	format := macro.NewChannelFormat(nil)
	if channel != nil {
		format = macro.NewChannelFormat(channel.MacroFormat)
	}
	subs := format.ExtractSubs(req.Query)

	m := &models.Macro{
		ClickID:      click.ID,
		Timestamp:    now,
		Subs:         subs,
		CampaignName: campaign.Name,
	}
	if channel != nil {
		m.TrafficChannelName = channel.ChannelName
	}
	if offer != nil {
		m.OfferName = offer.Name
	}
	if err := t.clicks.AttachMacro(ctx, m); err != nil {
		// macro loss degrades postbacks, not tracking
		t.metrics.RecordTrackingError("attach_macro")
		t.logger.Warn("attach macro failed", zap.String("click_id", click.ID), zap.Error(err))
	}

	if err := t.agg.Record(ctx, &models.RawEvent{
		Timestamp: now,
		EventType: models.EventClick,
		ClickID:   click.ID,
		Dims:      clickDims(click),
		Country:   click.Country,
		Device:    click.Device,
		Cost:      click.Cost,
		Params:    subs,
	}); err != nil {
		t.logger.Error("click rollup failed", zap.String("click_id", click.ID), zap.Error(err))
	}

	target, err := t.resolveTarget(ctx, campaign, click, m)
	if err != nil {
		return &ClickResult{Click: click}, err
	}
	return &ClickResult{Click: click, RedirectURL: target}, nil
}

// resolveTarget picks lander or offer. Direct linking, or a campaign
// without a lander, goes straight to the offer.
func (t *Tracker) resolveTarget(ctx context.Context, campaign *models.Campaign, click *models.Click, m *models.Macro) (string, error) {
	if !campaign.DirectLinking && campaign.LanderID != 0 {
		lander, err := t.entities.GetLander(ctx, campaign.LanderID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("lookup lander %d: %w", campaign.LanderID, err)
		}
		if lander != nil {
			resolved := macro.Resolve(lander.URL, t.macroValues(click, m))
			target, err := macro.NewChannelFormat(nil).AppendParams(resolved, click.ID, m.Subs)
			if err != nil {
				return "", fmt.Errorf("build lander url: %w", err)
			}
			return target, nil
		}
	}
	if campaign.OfferID != 0 {
		return t.offerURL(ctx, campaign.OfferID, click, m)
	}
	return "", ErrNoRedirectTarget
}

// offerURL renders the offer's tracking template for this click.
func (t *Tracker) offerURL(ctx context.Context, offerID int64, click *models.Click, m *models.Macro) (string, error) {
	offer, err := t.entities.GetOffer(ctx, offerID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoRedirectTarget
	}
	if err != nil {
		return "", fmt.Errorf("lookup offer %d: %w", offerID, err)
	}

	vals := t.macroValues(click, m)
	vals.Set(macro.KeyOfferName, offer.Name)
	vals.Set(macro.KeyPayout, strconv.FormatFloat(offer.Payout, 'f', -1, 64))

	target, err := macro.BuildURL(offer.URL, vals)
	if err != nil {
		return "", fmt.Errorf("offer %d url template: %w", offerID, err)
	}
	return target, nil
}

// macroValues assembles the placeholder substitutions for this click.
func (t *Tracker) macroValues(click *models.Click, m *models.Macro) macro.Values {
	vals := macro.Values{}
	vals.Set(macro.KeyClickID, click.ID)
	vals.Set(macro.KeyCampaignID, strconv.FormatInt(click.CampaignID, 10))
	vals.Set(macro.KeyOfferID, strconv.FormatInt(click.OfferID, 10))
	vals.Set(macro.KeyLanderID, strconv.FormatInt(click.LanderID, 10))
	vals.Set(macro.KeyTrafficChannel, strconv.FormatInt(click.TrafficChannelID, 10))
	vals.Set(macro.KeyCountry, click.Country)
	vals.Set(macro.KeyRegion, click.Region)
	vals.Set(macro.KeyCity, click.City)
	vals.Set(macro.KeyIP, click.IP)
	vals.Set(macro.KeyUserAgent, click.UserAgent)
	vals.Set(macro.KeyDevice, click.Device)
	vals.Set(macro.KeyOS, click.OS)
	vals.Set(macro.KeyBrowser, click.Browser)
	vals.Set(macro.KeyTimestamp, strconv.FormatInt(click.Timestamp.Unix(), 10))
	if m != nil {
		vals.Set(macro.KeyCampaignName, m.CampaignName)
		vals.Set(macro.KeyOfferName, m.OfferName)
		for k, v := range m.Subs {
			vals.Set(k, v)
		}
	}
	return vals
}

// HandleLanderView marks the click's lander view. Only the first view
// counts; repeats are acknowledged without touching the rollups.
func (t *Tracker) HandleLanderView(ctx context.Context, clickID string) (bool, error) {
	now := time.Now().UTC()
	changed, err := t.clicks.MarkLanderViewed(ctx, clickID, now)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrClickNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark lander viewed: %w", err)
	}
	if !changed {
		return false, nil
	}

	click, err := t.clicks.GetClick(ctx, clickID)
	if err != nil {
		return true, fmt.Errorf("load click %s: %w", clickID, err)
	}
	if err := t.agg.Record(ctx, &models.RawEvent{
		Timestamp: now,
		EventType: models.EventLPView,
		ClickID:   clickID,
		Dims:      clickDims(click),
		Country:   click.Country,
		Device:    click.Device,
	}); err != nil {
		t.logger.Error("lpview rollup failed", zap.String("click_id", clickID), zap.Error(err))
	}
	return true, nil
}

// HandleLanderClick resolves the click-through from lander to offer.
func (t *Tracker) HandleLanderClick(ctx context.Context, clickID string) (string, error) {
	click, err := t.clicks.GetClick(ctx, clickID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrClickNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load click %s: %w", clickID, err)
	}
	if click.OfferID == 0 {
		return "", ErrNoRedirectTarget
	}

	m, err := t.clicks.GetMacro(ctx, clickID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("load macro %s: %w", clickID, err)
	}

	target, err := t.offerURL(ctx, click.OfferID, click, m)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if err := t.agg.Record(ctx, &models.RawEvent{
		Timestamp: now,
		EventType: models.EventLPClick,
		ClickID:   clickID,
		Dims:      clickDims(click),
		Country:   click.Country,
		Device:    click.Device,
	}); err != nil {
		t.logger.Error("lpclick rollup failed", zap.String("click_id", clickID), zap.Error(err))
	}
	return target, nil
}

// HandleImpression counts an ad impression against a campaign.
func (t *Tracker) HandleImpression(ctx context.Context, campaignUID string) error {
	campaign, err := t.entities.GetCampaignByUniqueID(ctx, campaignUID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrCampaignNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup campaign %s: %w", campaignUID, err)
	}

	return t.agg.Record(ctx, &models.RawEvent{
		Timestamp: time.Now().UTC(),
		EventType: models.EventImpression,
		Dims: models.DimSet{
			CampaignID:       campaign.ID,
			TrafficChannelID: campaign.TrafficChannelID,
			LanderID:         campaign.LanderID,
			OfferID:          campaign.OfferID,
		},
	})
}

func clickDims(c *models.Click) models.DimSet {
	return models.DimSet{
		CampaignID:       c.CampaignID,
		TrafficChannelID: c.TrafficChannelID,
		LanderID:         c.LanderID,
		OfferID:          c.OfferID,
		OfferSourceID:    c.OfferSourceID,
	}
}
