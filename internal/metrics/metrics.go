// Package metrics exposes loader and store counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedflow/internal/merge"
)

const namespace = "feedflow"

// StatsFunc reports the current size of the merge store.
type StatsFunc func() merge.Stats

// Metrics implements loader.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	retries       prometheus.Counter
	merged        prometheus.Counter
}

// New creates the collectors and registers them, together with store gauges
// read from stats, on a fresh registry. stats may be nil.
func New(stats StatsFunc) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_fetches_total",
				Help:      "Completed feed loads by outcome.",
			}, []string{"outcome"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feed_fetch_duration_seconds",
				Help:      "Time taken to load a feed, retries included.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_fetch_retries_total",
				Help:      "Retried feed fetch attempts.",
			},
		),
		merged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "articles_merged_total",
				Help:      "Novel articles added to the store.",
			},
		),
	}
	m.registry.MustRegister(m.fetches, m.fetchDuration, m.retries, m.merged)

	if stats != nil {
		m.registry.MustRegister(
			gauge("stored_feeds", "Feeds known to the store.", func() float64 {
				return float64(stats().Feeds)
			}),
			gauge("stored_articles", "Articles held in the store.", func() float64 {
				return float64(stats().Articles)
			}),
			gauge("failing_feeds", "Feeds whose latest load failed.", func() float64 {
				return float64(stats().FailingFeeds)
			}),
		)
	}
	return m
}

func gauge(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func (m *Metrics) FetchFinished(outcome string, duration time.Duration) {
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(duration.Seconds())
}

func (m *Metrics) FetchRetried() {
	m.retries.Inc()
}

func (m *Metrics) ArticlesMerged(n int) {
	m.merged.Add(float64(n))
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
