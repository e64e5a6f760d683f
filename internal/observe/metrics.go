// Package observe exposes Prometheus metrics for the bot and summarizes
// the local ledger.
package observe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's collectors on a private registry. A nil *Metrics
// is a valid no-op observer.
type Metrics struct {
	registry *prometheus.Registry

	messages      *prometheus.CounterVec
	extractions   *prometheus.CounterVec
	duplicates    *prometheus.CounterVec
	storeRequests *prometheus.CounterVec
	extractDur    prometheus.Histogram
}

// NewMetrics registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbot",
		Name:      "messages_total",
		Help:      "Processed chat messages by outcome",
	}, []string{"outcome"})
	m.extractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbot",
		Name:      "extract_total",
		Help:      "LLM extractions by status",
	}, []string{"status"})
	m.duplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbot",
		Name:      "duplicates_total",
		Help:      "Duplicate events by matching rule",
	}, []string{"rule"})
	m.storeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventbot",
		Name:      "store_requests_total",
		Help:      "Record store calls by operation and status",
	}, []string{"op", "status"})
	m.extractDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventbot",
		Name:      "extract_duration_seconds",
		Help:      "Time spent in LLM extraction",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})

	m.registry.MustRegister(
		m.messages, m.extractions, m.duplicates, m.storeRequests, m.extractDur,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveExtraction(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "fallback"
	}
	m.extractions.WithLabelValues(status).Inc()
	m.extractDur.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDuplicate(rule string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(rule).Inc()
}

func (m *Metrics) ObserveStoreRequest(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.storeRequests.WithLabelValues(op, status).Inc()
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
