// Package attribution matches inbound conversion postbacks to stored
// clicks, fixes the conversion revenue, and notifies the traffic
// channel.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/macro"
	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/models"
	"github.com/radiusdt/clickpath/internal/postback"
	"github.com/radiusdt/clickpath/internal/rollup"
	"github.com/radiusdt/clickpath/internal/storage"
)

var (
	ErrClickNotFound  = errors.New("click not found")
	ErrSourceNotFound = errors.New("offer source not found")
	// ErrOfferMismatch means the notification names an offer or offer
	// source other than the one the click was recorded against.
	ErrOfferMismatch = errors.New("click offer does not match conversion notification")
)

// Attributor is the conversion attribution service.
type Attributor struct {
	entities    storage.EntityRepo
	clicks      storage.ClickRepo
	conversions storage.ConversionRepo
	agg         *rollup.Aggregator
	sender      *postback.Sender
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func New(entities storage.EntityRepo, clicks storage.ClickRepo, conversions storage.ConversionRepo, agg *rollup.Aggregator, sender *postback.Sender, logger *zap.Logger, m *metrics.Metrics) *Attributor {
	return &Attributor{
		entities:    entities,
		clicks:      clicks,
		conversions: conversions,
		agg:         agg,
		sender:      sender,
		logger:      logger,
		metrics:     m,
	}
}

// PostbackRequest is a parsed inbound conversion notification.
type PostbackRequest struct {
	OfferSourceID int64
	ClickID       string
	Sum           float64
	Currency      string
	EventName     string
	Status        string
	Params        map[string]string
}

// Result reports the attribution outcome. Created is false when the
// click had already converted; Conversion is then the original row.
type Result struct {
	Conversion *models.Conversion
	Created    bool
	LogID      string
}

// HandlePostback runs the full attribution flow. The raw postback is
// logged before any validation so rejected notifications stay
// auditable.
func (a *Attributor) HandlePostback(ctx context.Context, req *PostbackRequest) (*Result, error) {
	var source *models.OfferSource
	if req.OfferSourceID != 0 {
		var err error
		source, err = a.entities.GetOfferSource(ctx, req.OfferSourceID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSourceNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lookup offer source %d: %w", req.OfferSourceID, err)
		}
	}

	logID := a.logPostback(ctx, req, "received")

	click, err := a.clicks.GetClick(ctx, req.ClickID)
	if errors.Is(err, storage.ErrNotFound) {
		return &Result{LogID: logID}, ErrClickNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup click %s: %w", req.ClickID, err)
	}

	if click.OfferSourceID != 0 && click.OfferSourceID != req.OfferSourceID {
		return &Result{LogID: logID}, ErrOfferMismatch
	}

	revenue := a.resolveRevenue(ctx, req, click, source)
	now := time.Now().UTC()

	conv := &models.Conversion{
		ID:               uuid.New().String(),
		Timestamp:        now,
		ClickID:          click.ID,
		CampaignID:       click.CampaignID,
		TrafficChannelID: click.TrafficChannelID,
		OfferID:          click.OfferID,
		Payout:           req.Sum,
		Revenue:          revenue,
		Status:           req.Status,
		EventName:        req.EventName,
		Metadata:         req.Params,
	}

	stored, created, err := a.conversions.InsertOrGet(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("store conversion: %w", err)
	}
	if !created {
		return &Result{Conversion: stored, LogID: logID}, nil
	}

	profit := revenue - click.Cost
	if _, err := a.clicks.MarkConverted(ctx, click.ID, now, revenue, profit); err != nil {
		a.logger.Error("mark click converted failed",
			zap.String("click_id", click.ID), zap.Error(err))
	}

	if err := a.agg.Record(ctx, &models.RawEvent{
		Timestamp: now,
		EventType: models.EventConversion,
		ClickID:   click.ID,
		Dims: models.DimSet{
			CampaignID:       click.CampaignID,
			TrafficChannelID: click.TrafficChannelID,
			LanderID:         click.LanderID,
			OfferID:          click.OfferID,
			OfferSourceID:    req.OfferSourceID,
		},
		Country: click.Country,
		Device:  click.Device,
		Revenue: revenue,
	}); err != nil {
		a.logger.Error("conversion rollup failed",
			zap.String("click_id", click.ID), zap.Error(err))
	}

	a.metrics.RecordConversion(strconv.FormatInt(click.CampaignID, 10), revenue)
	a.notifyChannel(ctx, click, stored)

	return &Result{Conversion: stored, Created: true, LogID: logID}, nil
}

// resolveRevenue applies the payout cascade: explicit sum on the
// postback, then offer payout, then offer source payout.
func (a *Attributor) resolveRevenue(ctx context.Context, req *PostbackRequest, click *models.Click, source *models.OfferSource) float64 {
	if req.Sum > 0 {
		return req.Sum
	}
	if click.OfferID != 0 {
		offer, err := a.entities.GetOffer(ctx, click.OfferID)
		if err == nil && offer.Payout > 0 {
			return offer.Payout
		}
	}
	if source != nil && source.Payout > 0 {
		return source.Payout
	}
	return 0
}

// HandleConversion attributes a conversion reported directly with the
// click id, without an offer source postback. A non-zero offerID must
// match the offer the click was recorded against. The click's own
// offer source, when set, still participates in the payout cascade.
func (a *Attributor) HandleConversion(ctx context.Context, clickID string, payout float64, offerID int64, eventName string) (*Result, error) {
	click, err := a.clicks.GetClick(ctx, clickID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrClickNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup click %s: %w", clickID, err)
	}
	if offerID != 0 && click.OfferID != offerID {
		return nil, ErrOfferMismatch
	}
	return a.HandlePostback(ctx, &PostbackRequest{
		OfferSourceID: click.OfferSourceID,
		ClickID:       clickID,
		Sum:           payout,
		EventName:     eventName,
	})
}

// notifyChannel renders the traffic channel's postback template and
// queues it for delivery. Best effort; the conversion stands either way.
func (a *Attributor) notifyChannel(ctx context.Context, click *models.Click, conv *models.Conversion) {
	if click.TrafficChannelID == 0 || a.sender == nil {
		return
	}
	channel, err := a.entities.GetTrafficChannel(ctx, click.TrafficChannelID)
	if err != nil {
		a.logger.Warn("channel lookup for postback failed",
			zap.Int64("traffic_channel_id", click.TrafficChannelID), zap.Error(err))
		return
	}
	template := channel.S2SPostbackURL
	if template == "" {
		template = channel.PostbackURL
	}
	if template == "" {
		return
	}

	vals := macro.Values{}
	vals.Set(macro.KeyClickID, click.ID)
	vals.Set(macro.KeyConversionID, conv.ID)
	vals.Set(macro.KeyCampaignID, strconv.FormatInt(click.CampaignID, 10))
	vals.Set(macro.KeyPayout, strconv.FormatFloat(conv.Payout, 'f', -1, 64))
	vals.Set(macro.KeyRevenue, strconv.FormatFloat(conv.Revenue, 'f', -1, 64))
	vals.Set(macro.KeyCountry, click.Country)
	vals.Set(macro.KeyDevice, click.Device)
	vals.Set(macro.KeyTimestamp, strconv.FormatInt(conv.Timestamp.Unix(), 10))
	if m, err := a.clicks.GetMacro(ctx, click.ID); err == nil {
		vals.Set(macro.KeyCampaignName, m.CampaignName)
		vals.Set(macro.KeyOfferName, m.OfferName)
		for k, v := range m.Subs {
			vals.Set(k, v)
		}
	}

	url, err := macro.BuildURL(template, vals)
	if err != nil {
		a.logger.Warn("channel postback template invalid",
			zap.Int64("traffic_channel_id", channel.ID), zap.Error(err))
		return
	}
	a.sender.Enqueue(&postback.Job{
		ConversionID: conv.ID,
		ClickID:      click.ID,
		URL:          url,
	})
}

// logPostback stores the raw inbound notification. Best effort.
func (a *Attributor) logPostback(ctx context.Context, req *PostbackRequest, status string) string {
	log := &models.PostbackLog{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		OfferSourceID: req.OfferSourceID,
		ClickID:       req.ClickID,
		Sum:           req.Sum,
		Currency:      req.Currency,
		Params:        req.Params,
		Status:        status,
	}
	if err := a.conversions.SavePostbackLog(ctx, log); err != nil {
		a.logger.Warn("save postback log failed", zap.Error(err))
	}
	return log.ID
}
