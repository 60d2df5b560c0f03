package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radiusdt/clickpath/internal/models"
)

// ClickHouseArchive appends raw funnel events to the analytics store.
// Write-only; reporting never reads from here.
type ClickHouseArchive struct {
	db *sql.DB
}

func NewClickHouseArchive(db *sql.DB) *ClickHouseArchive {
	return &ClickHouseArchive{db: db}
}

func (a *ClickHouseArchive) Archive(ctx context.Context, ev *models.RawEvent) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, event_type, click_id, campaign_id, traffic_channel_id,
			lander_id, offer_id, offer_source_id, country, device, revenue, cost, params)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp, string(ev.EventType), ev.ClickID,
		ev.Dims.CampaignID, ev.Dims.TrafficChannelID, ev.Dims.LanderID,
		ev.Dims.OfferID, ev.Dims.OfferSourceID,
		ev.Country, ev.Device, ev.Revenue, ev.Cost, ev.Params)
	if err != nil {
		return fmt.Errorf("archive %s event: %w", ev.EventType, err)
	}
	return nil
}

func (a *ClickHouseArchive) Close() error {
	return a.db.Close()
}
