// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several relays can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions prometheus.Gauge
	relayed        *prometheus.CounterVec
	authOutcomes   *prometheus.CounterVec
	fanoutFailures prometheus.Counter
	connections    prometheus.Counter
}

// New registers all relay collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_active_sessions",
			Help: "Number of authenticated sessions",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_relayed_messages_total",
			Help: "Number of messages accepted for fan-out",
		}, []string{"type"}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_auth_outcomes_total",
			Help: "Number of finished authentication steps by outcome",
		}, []string{"outcome"}),
		fanoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_fanout_failures_total",
			Help: "Number of per-recipient sends that failed",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Number of accepted connections",
		}),
	}

	m.registry.MustRegister(
		m.activeSessions,
		m.relayed,
		m.authOutcomes,
		m.fanoutFailures,
		m.connections,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) AuthOutcome(outcome string) { m.authOutcomes.WithLabelValues(outcome).Inc() }
func (m *Metrics) Relayed(msgType string)     { m.relayed.WithLabelValues(msgType).Inc() }
func (m *Metrics) FanoutFailed()              { m.fanoutFailures.Inc() }
func (m *Metrics) ConnectionAccepted()        { m.connections.Inc() }
func (m *Metrics) SessionOpened()             { m.activeSessions.Inc() }
func (m *Metrics) SessionClosed()             { m.activeSessions.Dec() }

// Registry is exposed for tests and for embedding into other handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on address until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, address string, log logging.Logger) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln, log)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		log.Info(ctx, "Stopping metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "Starting metrics server", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
