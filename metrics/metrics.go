package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors emitted by one scrape run.
type Metrics struct {
	LimiterDecisions *prometheus.CounterVec
	LimiterWait      *prometheus.HistogramVec
	AdapterCalls     *prometheus.CounterVec
	Fallbacks        prometheus.Counter
	RecordsFetched   *prometheus.CounterVec
	QualityScore     prometheus.Gauge
	LowQuality       prometheus.Counter
	ListingsWritten  prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.gatherer = reg
	return m
}

// NewWithRegisterer registers all collectors on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LimiterDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_limiter_decisions_total",
				Help: "Rate limiter admission decisions by priority",
			},
			[]string{"priority", "decision"},
		),
		LimiterWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_limiter_wait_seconds",
				Help:    "Time spent waiting for a rate limiter token",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"priority"},
		),
		AdapterCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_adapter_calls_total",
				Help: "Adapter fetch calls by adapter and outcome",
			},
			[]string{"adapter", "outcome"},
		),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_fallbacks_total",
			Help: "Retrievals that needed the fallback adapter",
		}),
		RecordsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_records_fetched_total",
				Help: "Raw records returned by adapters",
			},
			[]string{"adapter"},
		),
		QualityScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_quality_score",
			Help: "Completeness score of the last evaluated batch",
		}),
		LowQuality: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_low_quality_batches_total",
			Help: "Batches scored below the quality threshold",
		}),
		ListingsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_listings_written_total",
			Help: "Deduplicated listings committed to storage",
		}),
	}

	reg.MustRegister(
		m.LimiterDecisions, m.LimiterWait, m.AdapterCalls, m.Fallbacks,
		m.RecordsFetched, m.QualityScore, m.LowQuality, m.ListingsWritten,
	)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
