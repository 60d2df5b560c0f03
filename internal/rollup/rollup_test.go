package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/models"
	"github.com/radiusdt/clickpath/internal/storage"
)

func newTestAggregator(repo storage.RollupRepo, archive storage.EventArchive) *Aggregator {
	return NewAggregator(repo, archive, nil, zap.NewNop(),
		metrics.NewMetricsWith("clickpath", prometheus.NewRegistry()))
}

func TestKeysEnumeratesSubsets(t *testing.T) {
	at := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		dims models.DimSet
		want int
	}{
		{"one dim", models.DimSet{CampaignID: 5}, 2},
		{"two dims", models.DimSet{CampaignID: 5, TrafficChannelID: 9}, 6},
		{"three dims", models.DimSet{CampaignID: 5, TrafficChannelID: 9, OfferID: 2}, 14},
		{"all five", models.DimSet{CampaignID: 1, TrafficChannelID: 2, LanderID: 3, OfferID: 4, OfferSourceID: 5}, 62},
		{"no dims", models.DimSet{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := Keys(tt.dims, at)
			if len(keys) != tt.want {
				t.Errorf("got %d keys, want %d", len(keys), tt.want)
			}
			for _, k := range keys {
				if k.IsEmpty() {
					t.Error("empty dimension subset must never appear")
				}
				if k.Hour != models.HourAll && k.Hour != 14 {
					t.Errorf("hour = %d, want -1 or 14", k.Hour)
				}
				if k.Date.Hour() != 0 || k.Date.Minute() != 0 {
					t.Errorf("date not normalized to midnight: %v", k.Date)
				}
			}
		})
	}
}

func TestRecordTouchesEverySubsetRow(t *testing.T) {
	repo := storage.NewInMemoryRollupRepo()
	agg := newTestAggregator(repo, nil)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := agg.Record(context.Background(), &models.RawEvent{
		Timestamp: at,
		EventType: models.EventClick,
		ClickID:   "c1",
		Dims:      models.DimSet{CampaignID: 5, TrafficChannelID: 9},
		Cost:      0.5,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	// 3 subsets x 2 granularities
	if repo.Len() != 6 {
		t.Fatalf("got %d rollup rows, want 6", repo.Len())
	}

	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, key := range []models.RollupKey{
		{DimSet: models.DimSet{CampaignID: 5}, Date: date, Hour: models.HourAll},
		{DimSet: models.DimSet{TrafficChannelID: 9}, Date: date, Hour: models.HourAll},
		{DimSet: models.DimSet{CampaignID: 5, TrafficChannelID: 9}, Date: date, Hour: models.HourAll},
		{DimSet: models.DimSet{CampaignID: 5, TrafficChannelID: 9}, Date: date, Hour: 9},
	} {
		row, err := repo.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("missing row %s: %v", key.String(), err)
		}
		if row.Clicks != 1 || row.TotalCost != 0.5 {
			t.Errorf("row %s: clicks=%d cost=%v", key.String(), row.Clicks, row.TotalCost)
		}
	}
}

func TestRecordDerivedRatios(t *testing.T) {
	repo := storage.NewInMemoryRollupRepo()
	agg := newTestAggregator(repo, nil)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dims := models.DimSet{CampaignID: 5}

	for i := 0; i < 100; i++ {
		agg.Record(ctx, &models.RawEvent{Timestamp: at, EventType: models.EventImpression, Dims: dims})
	}
	for i := 0; i < 5; i++ {
		agg.Record(ctx, &models.RawEvent{Timestamp: at, EventType: models.EventClick, Dims: dims, Cost: 2})
	}
	agg.Record(ctx, &models.RawEvent{Timestamp: at, EventType: models.EventConversion, Dims: dims, Revenue: 25})

	row, err := repo.Get(ctx, models.RollupKey{
		DimSet: dims,
		Date:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Hour:   models.HourAll,
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if row.CTR != 5.0 {
		t.Errorf("ctr = %v, want 5.0", row.CTR)
	}
	if row.CR != 20.0 {
		t.Errorf("cr = %v, want 20.0", row.CR)
	}
	if row.CPC != 2.0 {
		t.Errorf("cpc = %v, want 2.0", row.CPC)
	}
	if row.CPM != 100.0 {
		t.Errorf("cpm = %v, want 100.0", row.CPM)
	}
	if row.ROI != 150.0 {
		t.Errorf("roi = %v, want 150.0", row.ROI)
	}
	if row.EPC != 5.0 {
		t.Errorf("epc = %v, want 5.0", row.EPC)
	}
	if row.Profit != 15.0 {
		t.Errorf("profit = %v, want 15.0", row.Profit)
	}
}

func TestRecordZeroDenominators(t *testing.T) {
	repo := storage.NewInMemoryRollupRepo()
	agg := newTestAggregator(repo, nil)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dims := models.DimSet{CampaignID: 5}

	// a conversion with no prior clicks or impressions
	agg.Record(ctx, &models.RawEvent{Timestamp: at, EventType: models.EventConversion, Dims: dims, Revenue: 25})

	row, err := repo.Get(ctx, models.RollupKey{
		DimSet: dims,
		Date:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Hour:   models.HourAll,
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.CTR != 0 || row.CR != 0 || row.CPC != 0 || row.ROI != 0 {
		t.Errorf("zero-denominator ratios must be 0: %+v", row)
	}
}

func TestRecordNoDimensions(t *testing.T) {
	agg := newTestAggregator(storage.NewInMemoryRollupRepo(), nil)
	err := agg.Record(context.Background(), &models.RawEvent{
		Timestamp: time.Now(),
		EventType: models.EventClick,
	})
	if err == nil {
		t.Error("expected error for a dimensionless event")
	}
}

func TestRecordArchivesRawEvent(t *testing.T) {
	archive := storage.NewInMemoryArchive()
	agg := newTestAggregator(storage.NewInMemoryRollupRepo(), archive)

	agg.Record(context.Background(), &models.RawEvent{
		Timestamp: time.Now(),
		EventType: models.EventClick,
		ClickID:   "c1",
		Dims:      models.DimSet{CampaignID: 5},
		Country:   "US",
	})

	events := archive.Events()
	if len(events) != 1 {
		t.Fatalf("archived %d events, want 1", len(events))
	}
	if events[0].ClickID != "c1" || events[0].Country != "US" {
		t.Errorf("archived event: %+v", events[0])
	}
}
