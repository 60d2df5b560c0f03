package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/config"
	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/models"
	"github.com/radiusdt/clickpath/internal/storage"
)

type fixture struct {
	handler  http.Handler
	server   *Server
	entities *storage.InMemoryEntityRepo
	clicks   *storage.InMemoryClickRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	entities := storage.NewInMemoryEntityRepo()
	clicks := storage.NewInMemoryClickRepo()
	cfg := &config.Config{
		Server:   config.ServerConfig{Env: "test"},
		Geo:      config.GeoConfig{CacheSize: 16, CacheTTL: time.Minute},
		Postback: config.PostbackConfig{Workers: 1, QueueSize: 8, MaxRetries: 1, RetryDelay: time.Millisecond},
		Tracking: config.TrackingConfig{DefaultCurrency: "USD"},
	}
	srv := NewServer(&Dependencies{
		Config:  cfg,
		Logger:  zap.NewNop(),
		Metrics: metrics.NewMetricsWith("clickpath", prometheus.NewRegistry()),
		Stores: &Stores{
			Entities:    entities,
			Clicks:      clicks,
			Conversions: storage.NewInMemoryConversionRepo(),
			Rollups:     storage.NewInMemoryRollupRepo(),
		},
	})
	t.Cleanup(srv.Shutdown)
	return &fixture{handler: srv.Handler(), server: srv, entities: entities, clicks: clicks}
}

func (f *fixture) seedFunnel() {
	f.entities.PutTrafficChannel(&models.TrafficChannel{
		ID: 9, ChannelName: "push", CostPerClick: 0.02,
		MacroFormat: map[string]string{"sub1": "utm_content"},
	})
	f.entities.PutLander(&models.Lander{ID: 3, URL: "https://lp.example.com/page"})
	f.entities.PutOfferSource(&models.OfferSource{ID: 4, PostbackParam: "clickid", Payout: 2})
	f.entities.PutOffer(&models.Offer{
		ID: 2, URL: "https://aff.example.com/in?cid={click_id}", OfferSourceID: 4, Payout: 1.5,
	})
	f.entities.PutCampaign(&models.Campaign{
		ID: 5, UniqueID: "camp-abc", TrafficChannelID: 9, LanderID: 3, OfferID: 2, IsActive: true,
	})
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:1234"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0")
	f.handler.ServeHTTP(rec, req)
	return rec
}

// trackClick records a click and returns its id from the redirect.
func (f *fixture) trackClick(t *testing.T) string {
	t.Helper()
	rec := f.get(t, "/track/click?uid=camp-abc&utm_content=ad-1")
	if rec.Code != http.StatusFound {
		t.Fatalf("click status = %d, body %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect location: %v", err)
	}
	clickID := loc.Query().Get("click_id")
	if clickID == "" {
		t.Fatalf("redirect has no click_id: %s", loc)
	}
	return clickID
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestClickRedirect(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()

	rec := f.get(t, "/track/click?uid=camp-abc&utm_content=ad-1")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Host != "lp.example.com" {
		t.Errorf("redirect host = %s", loc.Host)
	}
	if loc.Query().Get("sub1") != "ad-1" {
		t.Errorf("sub1 not forwarded: %s", loc)
	}
}

func TestClickUniqueIDAndChannelParams(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	// a campaign with no configured channel; tc on the hit supplies it
	f.entities.PutCampaign(&models.Campaign{
		ID: 6, UniqueID: "camp-untagged", LanderID: 3, OfferID: 2, IsActive: true,
	})

	rec := f.get(t, "/track/click?unique_id=camp-untagged&tc=9&utm_content=ad-2")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	clickID := loc.Query().Get("click_id")
	if clickID == "" {
		t.Fatalf("redirect has no click_id: %s", loc)
	}

	click, err := f.clicks.GetClick(context.Background(), clickID)
	if err != nil {
		t.Fatalf("get click: %v", err)
	}
	if click.TrafficChannelID != 9 {
		t.Errorf("traffic channel = %d, want 9 from tc param", click.TrafficChannelID)
	}
	if click.Cost != 0.02 {
		t.Errorf("cost = %v, want channel cpc", click.Cost)
	}
}

func TestClickUnknownCampaign(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/track/click?uid=nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestClickMissingUID(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/track/click")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestClickInactiveCampaign(t *testing.T) {
	f := newFixture(t)
	f.entities.PutCampaign(&models.Campaign{ID: 1, UniqueID: "paused", IsActive: false})
	rec := f.get(t, "/track/click?uid=paused")
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want 410", rec.Code)
	}
}

func TestPixelAlwaysRenders(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/track/pixel?uid=unknown")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %s", ct)
	}
	if rec.Body.Len() != len(pixelGIF) {
		t.Errorf("body length = %d, want %d", rec.Body.Len(), len(pixelGIF))
	}
}

func TestLanderViewCountsOnce(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	clickID := f.trackClick(t)

	rec := f.get(t, "/track/lander?clickid="+clickID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["counted"] != true {
		t.Errorf("first view: %v", body)
	}

	rec = f.get(t, "/track/lander?clickid="+clickID)
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["counted"] != false {
		t.Errorf("repeat view: %v", body)
	}
}

func TestLanderViewUnknownClick(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/track/lander?clickid=00000000-0000-0000-0000-000000000000")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestLanderClickRedirectsToOffer(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	clickID := f.trackClick(t)

	rec := f.get(t, "/track/lpclick?clickid="+clickID)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Host != "aff.example.com" || loc.Query().Get("cid") != clickID {
		t.Errorf("offer redirect = %s", loc)
	}
}

func TestPostbackFlow(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	clickID := f.trackClick(t)

	rec := f.get(t, "/postback?source_id=4&clickid="+clickID+"&sum=7.5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != "ok" || body["conversion_id"] == nil {
		t.Errorf("postback body: %v", body)
	}

	click, err := f.clicks.GetClick(context.Background(), clickID)
	if err != nil {
		t.Fatalf("get click: %v", err)
	}
	if !click.Converted || click.Revenue != 7.5 {
		t.Errorf("click after postback: converted=%v revenue=%v", click.Converted, click.Revenue)
	}
}

func TestPostbackUnknownSource(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/postback?source_id=99&clickid=abc")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPostbackMissingClickID(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	rec := f.get(t, "/postback?source_id=4")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostbackMissingSum(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	clickID := f.trackClick(t)

	rec := f.get(t, "/postback?source_id=4&clickid="+clickID)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	// an explicit zero sum is valid and falls back to the offer payout
	rec = f.get(t, "/postback?source_id=4&clickid="+clickID+"&sum=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("sum=0 status = %d, body %s", rec.Code, rec.Body.String())
	}
	click, _ := f.clicks.GetClick(context.Background(), clickID)
	if click.Revenue != 1.5 {
		t.Errorf("revenue = %v, want offer payout 1.5", click.Revenue)
	}
}

func TestPostbackUnknownClickStillAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	rec := f.get(t, "/postback?source_id=4&clickid=00000000-0000-0000-0000-000000000000&sum=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != "click not found" || body["log_id"] == nil {
		t.Errorf("body: %v", body)
	}
}

func TestConversionEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	clickID := f.trackClick(t)

	rec := f.get(t, "/track/conversion?clickid="+clickID+"&payout=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["created"] != true {
		t.Errorf("first conversion: %v", body)
	}

	rec = f.get(t, "/track/conversion?clickid="+clickID+"&payout=3")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["created"] != false {
		t.Errorf("repeat conversion: %v", body)
	}
}

func TestConversionOfferMismatch(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	clickID := f.trackClick(t)

	rec := f.get(t, "/track/conversion?clickid="+clickID+"&payout=5&offer_id=999")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
	click, _ := f.clicks.GetClick(context.Background(), clickID)
	if click.Converted {
		t.Error("mismatched conversion must not convert the click")
	}

	rec = f.get(t, "/track/conversion?clickid="+clickID+"&payout=5&offer_id=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("matching offer_id status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["created"] != true {
		t.Errorf("conversion body: %v", body)
	}
}

func TestReportEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedFunnel()
	f.trackClick(t)
	f.trackClick(t)

	rec := f.get(t, "/reports?dimension=campaign")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var rep struct {
		Rows []struct {
			Label  string `json:"label"`
			Clicks int64  `json:"clicks"`
		} `json:"breakdown"`
		Summary struct {
			Clicks int64 `json:"clicks"`
		} `json:"summary"`
	}
	json.Unmarshal(rec.Body.Bytes(), &rep)
	if len(rep.Rows) != 1 || rep.Rows[0].Label != "5" || rep.Rows[0].Clicks != 2 {
		t.Errorf("rows: %+v", rep.Rows)
	}
	if rep.Summary.Clicks != 2 {
		t.Errorf("summary: %+v", rep.Summary)
	}
}

func TestReportBadDimension(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/reports?dimension=browser")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLiveStatsWithoutRedis(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/stats?campaign_id=5")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
