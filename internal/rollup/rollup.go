// Package rollup maintains the pre-aggregated reporting counters. Every
// tracked funnel event fans out into one counter row per non-empty
// subset of its entity dimensions, at daily and hourly granularity.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/models"
	"github.com/radiusdt/clickpath/internal/storage"
)

const liveStatsTTL = 48 * time.Hour

// Aggregator applies funnel events to the rollup store, mirrors live
// counters into Redis, and appends the raw event to the archive.
type Aggregator struct {
	rollups storage.RollupRepo
	archive storage.EventArchive
	redis   *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates an aggregator. redis and archive may be nil;
// the corresponding side effects are skipped.
func NewAggregator(rollups storage.RollupRepo, archive storage.EventArchive, rdb *redis.Client, logger *zap.Logger, m *metrics.Metrics) *Aggregator {
	if archive == nil {
		archive = storage.NopArchive{}
	}
	return &Aggregator{
		rollups: rollups,
		archive: archive,
		redis:   rdb,
		logger:  logger,
		metrics: m,
	}
}

// Record applies one event to every rollup row it implicates. A failed
// row is logged and counted but does not stop the remaining rows; an
// error is returned only when no row could be written.
func (a *Aggregator) Record(ctx context.Context, ev *models.RawEvent) error {
	delta := deltaFor(ev)
	keys := Keys(ev.Dims, ev.Timestamp)
	if len(keys) == 0 {
		return fmt.Errorf("event %s carries no dimensions", ev.EventType)
	}

	failed := 0
	for _, key := range keys {
		granularity := "daily"
		if key.Hour != models.HourAll {
			granularity = "hourly"
		}
		if err := a.rollups.Increment(ctx, key, delta); err != nil {
			failed++
			a.metrics.RecordRollupFailure(granularity)
			a.logger.Error("rollup increment failed",
				zap.String("event", string(ev.EventType)),
				zap.String("key", key.String()),
				zap.Error(err))
			continue
		}
		a.metrics.RecordRollupUpdate(granularity)
	}

	a.metrics.RecordEvent(string(ev.EventType))
	a.bumpLiveStats(ctx, ev)

	if err := a.archive.Archive(ctx, ev); err != nil {
		a.logger.Warn("event archive failed",
			zap.String("event", string(ev.EventType)),
			zap.Error(err))
	}

	if failed == len(keys) {
		return fmt.Errorf("all %d rollup rows failed for %s event", failed, ev.EventType)
	}
	return nil
}

// bumpLiveStats increments the per-campaign daily counter used by the
// live stats endpoint. Best effort.
func (a *Aggregator) bumpLiveStats(ctx context.Context, ev *models.RawEvent) {
	if a.redis == nil || ev.Dims.CampaignID == 0 {
		return
	}
	key := fmt.Sprintf("stats:%s:%d:%s",
		ev.EventType, ev.Dims.CampaignID, ev.Timestamp.UTC().Format("2006-01-02"))
	pipe := a.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, liveStatsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		a.logger.Warn("live stats update failed", zap.String("key", key), zap.Error(err))
	}
}

// LiveStats reads today's per-campaign counters from Redis.
func (a *Aggregator) LiveStats(ctx context.Context, campaignID int64, day time.Time) (map[string]int64, error) {
	if a.redis == nil {
		return nil, fmt.Errorf("live stats unavailable: redis not configured")
	}
	date := day.UTC().Format("2006-01-02")
	kinds := []models.EventType{
		models.EventImpression, models.EventClick, models.EventLPView,
		models.EventLPClick, models.EventConversion,
	}
	out := make(map[string]int64, len(kinds))
	for _, kind := range kinds {
		key := fmt.Sprintf("stats:%s:%d:%s", kind, campaignID, date)
		n, err := a.redis.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("read live stat %s: %w", key, err)
		}
		out[string(kind)] = n
	}
	return out, nil
}

// deltaFor maps an event to its counter increment.
func deltaFor(ev *models.RawEvent) models.RollupDelta {
	d := models.RollupDelta{Revenue: ev.Revenue, Cost: ev.Cost}
	switch ev.EventType {
	case models.EventImpression:
		d.Impressions = 1
	case models.EventClick:
		d.Clicks = 1
	case models.EventLPView:
		d.LPViews = 1
	case models.EventLPClick:
		d.LPClicks = 1
	case models.EventConversion:
		d.Conversions = 1
	}
	return d
}

// Keys enumerates the rollup rows one event touches: every non-empty
// subset of the supplied (non-zero) dimensions, each at daily and
// hourly granularity. Five dimensions bound the fan-out at 62 rows.
func Keys(dims models.DimSet, at time.Time) []models.RollupKey {
	type setter func(*models.DimSet)
	var supplied []setter
	if dims.CampaignID != 0 {
		id := dims.CampaignID
		supplied = append(supplied, func(d *models.DimSet) { d.CampaignID = id })
	}
	if dims.TrafficChannelID != 0 {
		id := dims.TrafficChannelID
		supplied = append(supplied, func(d *models.DimSet) { d.TrafficChannelID = id })
	}
	if dims.LanderID != 0 {
		id := dims.LanderID
		supplied = append(supplied, func(d *models.DimSet) { d.LanderID = id })
	}
	if dims.OfferID != 0 {
		id := dims.OfferID
		supplied = append(supplied, func(d *models.DimSet) { d.OfferID = id })
	}
	if dims.OfferSourceID != 0 {
		id := dims.OfferSourceID
		supplied = append(supplied, func(d *models.DimSet) { d.OfferSourceID = id })
	}
	if len(supplied) == 0 {
		return nil
	}

	utc := at.UTC()
	date := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	hour := utc.Hour()

	keys := make([]models.RollupKey, 0, (1<<len(supplied)-1)*2)
	for mask := 1; mask < 1<<len(supplied); mask++ {
		var subset models.DimSet
		for i, set := range supplied {
			if mask&(1<<i) != 0 {
				set(&subset)
			}
		}
		keys = append(keys,
			models.RollupKey{DimSet: subset, Date: date, Hour: models.HourAll},
			models.RollupKey{DimSet: subset, Date: date, Hour: hour},
		)
	}
	return keys
}
