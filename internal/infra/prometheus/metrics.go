package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sifan077/SlotBoard/internal/app/model"
)

// QueueMetrics holds the board's Prometheus collectors on a private
// registry. It satisfies service.Metrics.
type QueueMetrics struct {
	Registry *prometheus.Registry

	submissions     *prometheus.CounterVec
	published       *prometheus.CounterVec
	slotFull        *prometheus.CounterVec
	expired         *prometheus.CounterVec
	promoted        *prometheus.CounterVec
	promotionFailed *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	live            *prometheus.GaugeVec
	httpLatency     *prometheus.HistogramVec
}

// NewQueueMetrics registers every collector under namespace.
func NewQueueMetrics(namespace string) *QueueMetrics {
	if namespace == "" {
		namespace = "slotboard"
	}
	registry := prometheus.NewRegistry()

	m := &QueueMetrics{
		Registry: registry,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by category and outcome.",
		}, []string{"category", "outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Listings made public.",
		}, []string{"category"}),
		slotFull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_full_total",
			Help:      "Publish attempts rejected because the category was full.",
		}, []string{"category"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Public listings moved to expired.",
		}, []string{"category"}),
		promoted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promoted_total",
			Help:      "Pending listings promoted into free slots.",
		}, []string{"category"}),
		promotionFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_failures_total",
			Help:      "Promotions that failed after a slot was vacated.",
		}, []string{"category"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests denied by a quota.",
		}, []string{"scope"}),
		live: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_listings",
			Help:      "Last observed count of live public listings.",
		}, []string{"category"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(
		m.submissions,
		m.published,
		m.slotFull,
		m.expired,
		m.promoted,
		m.promotionFailed,
		m.rateLimited,
		m.live,
		m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *QueueMetrics) Submission(category model.Category, outcome string) {
	m.submissions.WithLabelValues(string(category), outcome).Inc()
}

func (m *QueueMetrics) Published(category model.Category) {
	m.published.WithLabelValues(string(category)).Inc()
}

func (m *QueueMetrics) SlotFull(category model.Category) {
	m.slotFull.WithLabelValues(string(category)).Inc()
}

func (m *QueueMetrics) Expired(category model.Category, n int) {
	m.expired.WithLabelValues(string(category)).Add(float64(n))
}

func (m *QueueMetrics) Promoted(category model.Category, n int) {
	m.promoted.WithLabelValues(string(category)).Add(float64(n))
}

func (m *QueueMetrics) PromotionFailed(category model.Category) {
	m.promotionFailed.WithLabelValues(string(category)).Inc()
}

func (m *QueueMetrics) RateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *QueueMetrics) LiveCount(category model.Category, n int64) {
	m.live.WithLabelValues(string(category)).Set(float64(n))
}

// ObserveHTTP records one served request.
func (m *QueueMetrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
