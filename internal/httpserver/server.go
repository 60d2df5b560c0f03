// Package httpserver wires the tracking services behind HTTP routes.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/clickpath/internal/attribution"
	"github.com/radiusdt/clickpath/internal/config"
	"github.com/radiusdt/clickpath/internal/database"
	"github.com/radiusdt/clickpath/internal/geo"
	"github.com/radiusdt/clickpath/internal/metrics"
	"github.com/radiusdt/clickpath/internal/middleware"
	"github.com/radiusdt/clickpath/internal/postback"
	"github.com/radiusdt/clickpath/internal/reporting"
	"github.com/radiusdt/clickpath/internal/rollup"
	"github.com/radiusdt/clickpath/internal/storage"
	"github.com/radiusdt/clickpath/internal/tracker"
)

// transparent 1x1 GIF served by the pixel endpoint
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	// Stores overrides the repositories picked from DB; tests seed
	// in-memory implementations through it.
	Stores *Stores
}

// Stores bundles the repository implementations the server runs on.
type Stores struct {
	Entities    storage.EntityRepo
	Clicks      storage.ClickRepo
	Conversions storage.ConversionRepo
	Rollups     storage.RollupRepo
}

// Server exposes the tracking, postback and reporting endpoints.
type Server struct {
	tracker    *tracker.Tracker
	attributor *attribution.Attributor
	reporting  *reporting.Service
	agg        *rollup.Aggregator
	sender     *postback.Sender
	geo        *geo.Resolver
	logger     *zap.Logger
	config     *config.Config
	metrics    *metrics.Metrics
}

// NewServer wires the services. Without Postgres the tracker runs on
// in-memory stores, which keeps development and tests self-contained.
func NewServer(deps *Dependencies) *Server {
	var (
		entityRepo     storage.EntityRepo
		clickRepo      storage.ClickRepo
		conversionRepo storage.ConversionRepo
		rollupRepo     storage.RollupRepo
	)
	switch {
	case deps.Stores != nil:
		entityRepo = deps.Stores.Entities
		clickRepo = deps.Stores.Clicks
		conversionRepo = deps.Stores.Conversions
		rollupRepo = deps.Stores.Rollups
	case deps.DB != nil:
		entityRepo = storage.NewPostgresEntityRepo(deps.DB.Pool)
		clickRepo = storage.NewPostgresClickRepo(deps.DB.Pool)
		conversionRepo = storage.NewPostgresConversionRepo(deps.DB.Pool)
		rollupRepo = storage.NewPostgresRollupRepo(deps.DB.Pool)
	default:
		entityRepo = storage.NewInMemoryEntityRepo()
		clickRepo = storage.NewInMemoryClickRepo()
		conversionRepo = storage.NewInMemoryConversionRepo()
		rollupRepo = storage.NewInMemoryRollupRepo()
	}

	var archive storage.EventArchive = storage.NopArchive{}
	if deps.ClickHouse != nil {
		archive = storage.NewClickHouseArchive(deps.ClickHouse.DB)
	}

	var geoResolver *geo.Resolver
	if deps.Config.Geo.Enabled {
		provider, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("geoip database unavailable", zap.Error(err))
		} else {
			geoResolver = geo.NewResolver(provider, deps.Config.Geo.CacheSize, deps.Config.Geo.CacheTTL, deps.Metrics)
		}
	}
	if geoResolver == nil {
		geoResolver = geo.NewResolver(nil, deps.Config.Geo.CacheSize, deps.Config.Geo.CacheTTL, deps.Metrics)
	}

	var agg *rollup.Aggregator
	if deps.Redis != nil {
		agg = rollup.NewAggregator(rollupRepo, archive, deps.Redis.Client, deps.Logger, deps.Metrics)
	} else {
		agg = rollup.NewAggregator(rollupRepo, archive, nil, deps.Logger, deps.Metrics)
	}

	sender := postback.NewSender(postback.Options{
		Workers:     deps.Config.Postback.Workers,
		QueueSize:   deps.Config.Postback.QueueSize,
		MaxRetries:  deps.Config.Postback.MaxRetries,
		RetryDelay:  deps.Config.Postback.RetryDelay,
		SendTimeout: deps.Config.Postback.SendTimeout,
	}, conversionRepo, deps.Logger, deps.Metrics)
	sender.Start()

	return &Server{
		tracker:    tracker.New(entityRepo, clickRepo, agg, geoResolver, deps.Logger, deps.Metrics),
		attributor: attribution.New(entityRepo, clickRepo, conversionRepo, agg, sender, deps.Logger, deps.Metrics),
		reporting:  reporting.NewService(rollupRepo, clickRepo),
		agg:        agg,
		sender:     sender,
		geo:        geoResolver,
		logger:     deps.Logger,
		config:     deps.Config,
		metrics:    deps.Metrics,
	}
}

// Handler returns the full route table wrapped in the middleware
// stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	// Tracking
	mux.HandleFunc("/track/click", s.handleClick)
	mux.HandleFunc("/track/pixel", s.handlePixel)
	mux.HandleFunc("/track/lander", s.handleLanderView)
	mux.HandleFunc("/track/lpclick", s.handleLanderClick)
	mux.HandleFunc("/track/conversion", s.handleConversion)

	// Offer-source postbacks
	mux.HandleFunc("/postback", s.handlePostback)

	// Reporting
	mux.HandleFunc("/reports", s.handleReport)
	mux.HandleFunc("/reports/summary", s.handleSummary)
	mux.HandleFunc("/stats", s.handleLiveStats)

	logging := middleware.NewLoggingMiddleware(s.logger)
	recovery := middleware.NewRecoveryMiddleware(s.logger)
	ratelimit := middleware.NewRateLimitMiddleware(s.config.RateLimit, s.logger, s.metrics)
	return recovery.Handler(logging.Handler(ratelimit.Handler(mux)))
}

// Shutdown drains the postback queue and releases the geo database.
func (s *Server) Shutdown() {
	s.sender.Stop()
	if err := s.geo.Close(); err != nil {
		s.logger.Warn("geo close failed", zap.Error(err))
	}
}

// ---- Health ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Tracking ----

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	uid := firstParam(q, "uid", "cid", "unique_id")
	if uid == "" {
		s.errorResponse(w, "missing campaign uid", http.StatusBadRequest)
		return
	}
	// tc names the traffic channel the hit arrived from; it overrides
	// the campaign's configured channel.
	channelID, _ := strconv.ParseInt(q.Get("tc"), 10, 64)

	start := time.Now()
	res, err := s.tracker.HandleClick(r.Context(), &tracker.ClickRequest{
		CampaignUID:      uid,
		TrafficChannelID: channelID,
		IP:               middleware.ClientIP(r, s.config.Tracking.TrustProxyHeader),
		UserAgent:        r.UserAgent(),
		Referer:          r.Referer(),
		Query:            q,
	})
	switch {
	case errors.Is(err, tracker.ErrCampaignNotFound):
		s.errorResponse(w, "campaign not found", http.StatusNotFound)
		return
	case errors.Is(err, tracker.ErrCampaignInactive):
		s.errorResponse(w, "campaign inactive", http.StatusGone)
		return
	case errors.Is(err, tracker.ErrNoRedirectTarget):
		// click is recorded; there is just nowhere to send the visitor
		s.errorResponse(w, "no redirect target", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("click tracking failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.metrics.RecordRedirect("click", time.Since(start))
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (s *Server) handlePixel(w http.ResponseWriter, r *http.Request) {
	uid := firstParam(r.URL.Query(), "uid", "cid", "unique_id")
	if uid != "" {
		if err := s.tracker.HandleImpression(r.Context(), uid); err != nil &&
			!errors.Is(err, tracker.ErrCampaignNotFound) {
			s.logger.Warn("impression tracking failed", zap.String("uid", uid), zap.Error(err))
		}
	}
	// the pixel always renders
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(pixelGIF)
}

func (s *Server) handleLanderView(w http.ResponseWriter, r *http.Request) {
	clickID := firstParam(r.URL.Query(), "clickid", "click_id")
	if clickID == "" {
		s.errorResponse(w, "missing clickid", http.StatusBadRequest)
		return
	}

	counted, err := s.tracker.HandleLanderView(r.Context(), clickID)
	if errors.Is(err, tracker.ErrClickNotFound) {
		s.errorResponse(w, "click not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("lander view failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "counted": counted})
}

func (s *Server) handleLanderClick(w http.ResponseWriter, r *http.Request) {
	clickID := firstParam(r.URL.Query(), "clickid", "click_id")
	if clickID == "" {
		s.errorResponse(w, "missing clickid", http.StatusBadRequest)
		return
	}

	start := time.Now()
	target, err := s.tracker.HandleLanderClick(r.Context(), clickID)
	switch {
	case errors.Is(err, tracker.ErrClickNotFound):
		s.errorResponse(w, "click not found", http.StatusNotFound)
		return
	case errors.Is(err, tracker.ErrNoRedirectTarget):
		s.errorResponse(w, "no offer configured", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("lander click failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.metrics.RecordRedirect("lpclick", time.Since(start))
	http.Redirect(w, r, target, http.StatusFound)
}

// ---- Conversions ----

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clickID := firstParam(q, "clickid", "click_id")
	if clickID == "" {
		s.errorResponse(w, "missing clickid", http.StatusBadRequest)
		return
	}
	payout, _ := strconv.ParseFloat(q.Get("payout"), 64)
	var offerID int64
	if raw := q.Get("offer_id"); raw != "" {
		var err error
		offerID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.errorResponse(w, "invalid offer_id", http.StatusBadRequest)
			return
		}
	}

	res, err := s.attributor.HandleConversion(r.Context(), clickID, payout, offerID, q.Get("event"))
	if errors.Is(err, attribution.ErrClickNotFound) {
		s.errorResponse(w, "click not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, attribution.ErrOfferMismatch) {
		s.errorResponse(w, "offer mismatch", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("conversion tracking failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"conversion_id": res.Conversion.ID,
		"created":       res.Created,
	})
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sourceID, err := strconv.ParseInt(q.Get("source_id"), 10, 64)
	if err != nil || sourceID <= 0 {
		s.errorResponse(w, "missing or invalid source_id", http.StatusBadRequest)
		return
	}
	clickID := q.Get("clickid")
	if clickID == "" {
		s.errorResponse(w, "missing clickid", http.StatusBadRequest)
		return
	}
	raw := q.Get("sum")
	if raw == "" {
		s.errorResponse(w, "missing sum", http.StatusBadRequest)
		return
	}
	// sum=0 is valid and defers to the offer/source payout cascade
	sum, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.errorResponse(w, "invalid sum", http.StatusBadRequest)
		return
	}
	currency := q.Get("currency")
	if currency == "" {
		currency = s.config.Tracking.DefaultCurrency
	}

	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}

	res, err := s.attributor.HandlePostback(r.Context(), &attribution.PostbackRequest{
		OfferSourceID: sourceID,
		ClickID:       clickID,
		Sum:           sum,
		Currency:      currency,
		EventName:     q.Get("event"),
		Status:        q.Get("status"),
		Params:        params,
	})
	switch {
	case errors.Is(err, attribution.ErrSourceNotFound):
		s.errorResponse(w, "offer source not found", http.StatusNotFound)
		return
	case errors.Is(err, attribution.ErrClickNotFound):
		s.postbackResponse(w, "click not found", res)
		return
	case errors.Is(err, attribution.ErrOfferMismatch):
		s.postbackResponse(w, "offer mismatch", res)
		return
	case err != nil:
		s.logger.Error("postback attribution failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.postbackResponse(w, "ok", res)
}

// postbackResponse always answers 200 so the network does not retry a
// notification we have already logged.
func (s *Server) postbackResponse(w http.ResponseWriter, message string, res *attribution.Result) {
	body := map[string]any{"message": message}
	if res != nil {
		if res.LogID != "" {
			body["log_id"] = res.LogID
		}
		if res.Conversion != nil {
			body["conversion_id"] = res.Conversion.ID
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// ---- Reporting ----

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &reporting.Request{Dimension: q.Get("dimension")}
	var err error
	if req.Start, err = parseDate(firstParam(q, "startDate", "start_date")); err != nil {
		s.errorResponse(w, "invalid startDate", http.StatusBadRequest)
		return
	}
	if req.End, err = parseDate(firstParam(q, "endDate", "end_date")); err != nil {
		s.errorResponse(w, "invalid endDate", http.StatusBadRequest)
		return
	}

	rep, err := s.reporting.Build(r.Context(), req)
	if errors.Is(err, reporting.ErrBadDimension) {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("report failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rep)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate(firstParam(q, "startDate", "start_date"))
	if err != nil {
		s.errorResponse(w, "invalid startDate", http.StatusBadRequest)
		return
	}
	end, err := parseDate(firstParam(q, "endDate", "end_date"))
	if err != nil {
		s.errorResponse(w, "invalid endDate", http.StatusBadRequest)
		return
	}
	if end.IsZero() {
		now := time.Now().UTC()
		end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}

	row, err := s.reporting.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("summary failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(row)
}

func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.ParseInt(r.URL.Query().Get("campaign_id"), 10, 64)
	if err != nil || campaignID <= 0 {
		s.errorResponse(w, "missing or invalid campaign_id", http.StatusBadRequest)
		return
	}
	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		if day, err = time.Parse("2006-01-02", raw); err != nil {
			s.errorResponse(w, "invalid date", http.StatusBadRequest)
			return
		}
	}

	stats, err := s.agg.LiveStats(r.Context(), campaignID, day)
	if err != nil {
		s.errorResponse(w, "live stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// ---- Helpers ----

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

// firstParam returns the first non-empty value among the named query
// parameter aliases.
func firstParam(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}
