// Package metrics exposes Prometheus counters for the feed engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modfeed"

// Collector records poll cycles, feed outcomes, deliveries and cache lookups.
type Collector struct {
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	feedOutcomes  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	cache         *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles by feed kind.",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of a poll cycle by feed kind.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		feedOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_outcomes_total",
			Help:      "Per-feed processing outcomes.",
		}, []string{"kind", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by delivery path.",
		}, []string{"path"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_cache_lookups_total",
			Help:      "Download stats cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(c.cycles, c.cycleDuration, c.feedOutcomes, c.notifications, c.cache)
	return c
}

// CycleCompleted records a finished poll cycle.
func (c *Collector) CycleCompleted(kind string, d time.Duration) {
	c.cycles.WithLabelValues(kind).Inc()
	c.cycleDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// FeedOutcome records how processing a single feed ended.
func (c *Collector) FeedOutcome(kind, outcome string) {
	c.feedOutcomes.WithLabelValues(kind, outcome).Inc()
}

// Delivered records n notifications sent along path.
func (c *Collector) Delivered(path string, n int) {
	c.notifications.WithLabelValues(path).Add(float64(n))
}

// CacheResult records a download stats cache lookup.
func (c *Collector) CacheResult(result string) {
	c.cache.WithLabelValues(result).Inc()
}
