package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/radiusdt/clickpath/internal/models"
)

func TestEntityRepoNotFound(t *testing.T) {
	repo := NewInMemoryEntityRepo()
	if _, err := repo.GetCampaign(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetCampaignByUniqueID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEntityRepoLookupByUniqueID(t *testing.T) {
	repo := NewInMemoryEntityRepo()
	repo.PutCampaign(&models.Campaign{ID: 1, UniqueID: "abc123", Name: "test", IsActive: true})

	c, err := repo.GetCampaignByUniqueID(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID != 1 || c.Name != "test" {
		t.Errorf("wrong campaign: %+v", c)
	}
}

func TestMarkLanderViewedOnce(t *testing.T) {
	repo := NewInMemoryClickRepo()
	ctx := context.Background()
	id := uuid.New().String()

	if err := repo.SaveClick(ctx, &models.Click{ID: id, Timestamp: time.Now()}); err != nil {
		t.Fatalf("save click: %v", err)
	}

	changed, err := repo.MarkLanderViewed(ctx, id, time.Now())
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !changed {
		t.Error("first mark should report a change")
	}

	changed, err = repo.MarkLanderViewed(ctx, id, time.Now())
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if changed {
		t.Error("second mark must be a no-op")
	}

	c, err := repo.GetClick(ctx, id)
	if err != nil {
		t.Fatalf("get click: %v", err)
	}
	if !c.LandingPageViewed || c.LPViewTime == nil {
		t.Errorf("click not marked viewed: %+v", c)
	}
}

func TestMarkLanderViewedUnknownClick(t *testing.T) {
	repo := NewInMemoryClickRepo()
	if _, err := repo.MarkLanderViewed(context.Background(), uuid.New().String(), time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkConvertedSetsFinancials(t *testing.T) {
	repo := NewInMemoryClickRepo()
	ctx := context.Background()
	id := uuid.New().String()

	if err := repo.SaveClick(ctx, &models.Click{ID: id, Timestamp: time.Now(), Cost: 0.5}); err != nil {
		t.Fatalf("save click: %v", err)
	}

	changed, err := repo.MarkConverted(ctx, id, time.Now(), 10.0, 9.5)
	if err != nil || !changed {
		t.Fatalf("mark converted: changed=%v err=%v", changed, err)
	}

	c, _ := repo.GetClick(ctx, id)
	if c.Revenue != 10.0 || c.Profit != 9.5 {
		t.Errorf("financials not set: revenue=%v profit=%v", c.Revenue, c.Profit)
	}

	// repeat must not overwrite
	changed, err = repo.MarkConverted(ctx, id, time.Now(), 99.0, 99.0)
	if err != nil || changed {
		t.Fatalf("repeat mark: changed=%v err=%v", changed, err)
	}
	c, _ = repo.GetClick(ctx, id)
	if c.Revenue != 10.0 {
		t.Errorf("repeat mark overwrote revenue: %v", c.Revenue)
	}
}

func TestConversionInsertOrGetIdempotent(t *testing.T) {
	repo := NewInMemoryConversionRepo()
	ctx := context.Background()
	clickID := uuid.New().String()

	first := &models.Conversion{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		ClickID:   clickID,
		Revenue:   12.5,
	}
	got, created, err := repo.InsertOrGet(ctx, first)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !created || got.ID != first.ID {
		t.Errorf("first insert: created=%v id=%s", created, got.ID)
	}

	second := &models.Conversion{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		ClickID:   clickID,
		Revenue:   99.0,
	}
	got, created, err = repo.InsertOrGet(ctx, second)
	if err != nil {
		t.Fatalf("repeat insert: %v", err)
	}
	if created {
		t.Error("repeat insert must not create")
	}
	if got.ID != first.ID || got.Revenue != 12.5 {
		t.Errorf("repeat insert returned wrong row: %+v", got)
	}
}

func TestRollupIncrementAccumulates(t *testing.T) {
	repo := NewInMemoryRollupRepo()
	ctx := context.Background()
	key := models.RollupKey{
		DimSet: models.DimSet{CampaignID: 7},
		Date:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Hour:   models.HourAll,
	}

	if err := repo.Increment(ctx, key, models.RollupDelta{Clicks: 1, Cost: 0.25}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := repo.Increment(ctx, key, models.RollupDelta{Clicks: 1, Cost: 0.25}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := repo.Increment(ctx, key, models.RollupDelta{Conversions: 1, Revenue: 5}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	row, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Clicks != 2 || row.Conversions != 1 {
		t.Errorf("counters: clicks=%d conversions=%d", row.Clicks, row.Conversions)
	}
	if row.TotalCost != 0.5 || row.TotalRevenue != 5 {
		t.Errorf("money: cost=%v revenue=%v", row.TotalCost, row.TotalRevenue)
	}
	if row.Profit != 4.5 {
		t.Errorf("profit = %v, want 4.5", row.Profit)
	}
	if row.CR != 50 {
		t.Errorf("cr = %v, want 50", row.CR)
	}
	if row.EPC != 2.5 {
		t.Errorf("epc = %v, want 2.5", row.EPC)
	}
}

func TestRollupQueryFiltersGranularity(t *testing.T) {
	repo := NewInMemoryRollupRepo()
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dims := models.DimSet{CampaignID: 7}

	daily := models.RollupKey{DimSet: dims, Date: date, Hour: models.HourAll}
	hourly := models.RollupKey{DimSet: dims, Date: date, Hour: 14}
	repo.Increment(ctx, daily, models.RollupDelta{Clicks: 1})
	repo.Increment(ctx, hourly, models.RollupDelta{Clicks: 1})

	f := RollupFilter{Start: date, End: date, Dimension: "campaign"}
	rows, err := repo.Query(ctx, f)
	if err != nil {
		t.Fatalf("query daily: %v", err)
	}
	if len(rows) != 1 || rows[0].Hour != models.HourAll {
		t.Errorf("daily query returned %d rows", len(rows))
	}

	f.Hourly = true
	rows, err = repo.Query(ctx, f)
	if err != nil {
		t.Fatalf("query hourly: %v", err)
	}
	if len(rows) != 1 || rows[0].Hour != 14 {
		t.Errorf("hourly query returned %d rows", len(rows))
	}
}

func TestRollupQueryFiltersDimension(t *testing.T) {
	repo := NewInMemoryRollupRepo()
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	repo.Increment(ctx, models.RollupKey{DimSet: models.DimSet{CampaignID: 1}, Date: date, Hour: models.HourAll}, models.RollupDelta{Clicks: 1})
	repo.Increment(ctx, models.RollupKey{DimSet: models.DimSet{OfferID: 3}, Date: date, Hour: models.HourAll}, models.RollupDelta{Clicks: 1})
	repo.Increment(ctx, models.RollupKey{DimSet: models.DimSet{CampaignID: 1, OfferID: 3}, Date: date, Hour: models.HourAll}, models.RollupDelta{Clicks: 1})

	rows, err := repo.Query(ctx, RollupFilter{Start: date, End: date, Dimension: "offer"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || rows[0].OfferID != 3 || rows[0].CampaignID != 0 {
		t.Errorf("offer query returned wrong rows: %d", len(rows))
	}
}

func TestCountryBreakdown(t *testing.T) {
	repo := NewInMemoryClickRepo()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		repo.SaveClick(ctx, &models.Click{
			ID: uuid.New().String(), Timestamp: now, Country: "US", Cost: 0.1,
		})
	}
	id := uuid.New().String()
	repo.SaveClick(ctx, &models.Click{ID: id, Timestamp: now, Country: "DE", Cost: 0.2})
	repo.MarkConverted(ctx, id, now, 5, 4.8)

	stats, err := repo.CountryBreakdown(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d countries, want 2", len(stats))
	}
	if stats[0].Country != "US" || stats[0].Clicks != 3 {
		t.Errorf("top country: %+v", stats[0])
	}
	if stats[1].Country != "DE" || stats[1].Conversions != 1 || stats[1].Revenue != 5 {
		t.Errorf("DE stats: %+v", stats[1])
	}
}
