package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	// Tracking metrics
	TrackedEvents   *prometheus.CounterVec
	RedirectLatency *prometheus.HistogramVec
	TrackingErrors  *prometheus.CounterVec

	// Rollup metrics
	RollupUpdates  *prometheus.CounterVec
	RollupFailures *prometheus.CounterVec

	// Conversion metrics
	Conversions *prometheus.CounterVec
	Revenue     *prometheus.CounterVec

	// Postback metrics
	PostbacksSent     *prometheus.CounterVec
	PostbackQueueSize prometheus.Gauge

	// System metrics
	DBConnections    *prometheus.GaugeVec
	GeoLookupLatency *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on the default
// registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics on the given registerer. Tests
// pass a fresh registry so instances do not collide.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TrackedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracked_events_total",
				Help:      "Total tracked funnel events by type",
			},
			[]string{"event"},
		),
		RedirectLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "redirect_latency_seconds",
				Help:      "Click-to-redirect processing latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"target"},
		),
		TrackingErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_errors_total",
				Help:      "Tracking request failures by kind",
			},
			[]string{"kind"},
		),
		RollupUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_updates_total",
				Help:      "Rollup rows incremented",
			},
			[]string{"granularity"},
		),
		RollupFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_failures_total",
				Help:      "Rollup row updates that failed",
			},
			[]string{"granularity"},
		),
		Conversions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Attributed conversions",
			},
			[]string{"campaign_id"},
		),
		Revenue: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_dollars_total",
				Help:      "Total attributed revenue",
			},
			[]string{"campaign_id"},
		),
		PostbacksSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postbacks_sent_total",
				Help:      "Outbound postbacks by result",
			},
			[]string{"status"},
		),
		PostbackQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "postback_queue_size",
				Help:      "Pending postbacks in the dispatch queue",
			},
		),
		DBConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"},
		),
		GeoLookupLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records a tracked funnel event.
func (m *Metrics) RecordEvent(event string) {
	m.TrackedEvents.WithLabelValues(event).Inc()
}

// RecordRedirect records redirect processing latency.
func (m *Metrics) RecordRedirect(target string, latency time.Duration) {
	m.RedirectLatency.WithLabelValues(target).Observe(latency.Seconds())
}

// RecordTrackingError records a tracking failure.
func (m *Metrics) RecordTrackingError(kind string) {
	m.TrackingErrors.WithLabelValues(kind).Inc()
}

// RecordRollupUpdate records a rollup row increment.
func (m *Metrics) RecordRollupUpdate(granularity string) {
	m.RollupUpdates.WithLabelValues(granularity).Inc()
}

// RecordRollupFailure records a failed rollup row increment.
func (m *Metrics) RecordRollupFailure(granularity string) {
	m.RollupFailures.WithLabelValues(granularity).Inc()
}

// RecordConversion records an attributed conversion.
func (m *Metrics) RecordConversion(campaignID string, revenue float64) {
	m.Conversions.WithLabelValues(campaignID).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(campaignID).Add(revenue)
	}
}

// RecordPostback records an outbound postback result.
func (m *Metrics) RecordPostback(status string) {
	m.PostbacksSent.WithLabelValues(status).Inc()
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.GeoLookupLatency.WithLabelValues(hit).Observe(latency.Seconds())
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
