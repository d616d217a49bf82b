// Package obs exposes engine metrics in Prometheus format.
package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drain item outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeRetryable = "retryable"
	OutcomeRejected  = "rejected"
	OutcomeDeferred  = "deferred"
	OutcomeHeld      = "held"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	pending     prometheus.Gauge
	online      prometheus.Gauge
	transitions prometheus.Counter
	drainItems  *prometheus.CounterVec
	reads       *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_pending_mutations",
			Help: "Mutations waiting in the local queue.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_online",
			Help: "1 when the remote side is reachable, 0 otherwise.",
		}),
		transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_network_transitions_total",
			Help: "Observed online/offline flips.",
		}),
		drainItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_drain_items_total",
			Help: "Queued mutations processed by drains, by outcome.",
		}, []string{"outcome"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_reads_total",
			Help: "Reads served, by source.",
		}, []string{"source"}),
	}

	for _, c := range []prometheus.Collector{m.pending, m.online, m.transitions, m.drainItems, m.reads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	m.online.Set(1)
	return m, nil
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// Transition records a connectivity flip and the new state.
func (m *Metrics) Transition(online bool) {
	if m == nil {
		return
	}
	m.transitions.Inc()
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

func (m *Metrics) DrainItem(outcome string) {
	if m == nil {
		return
	}
	m.drainItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Read(source string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(source).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
