// Metrics registers and serves the process-wide Prometheus registry. It is
// initialized once at startup and referenced afterwards through the
// *Metrics value NewMetrics returns, mirroring the teacher's global metrics
// registry pattern adapted to prometheus/client_golang instead of a
// hand-rolled registry.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide collection of oracle metrics. All fields are
// safe for concurrent use; the struct itself is never mutated after
// construction.
type Metrics struct {
	registry *prometheus.Registry

	Iterations       *prometheus.CounterVec
	SubgraphEpoch    prometheus.Gauge
	EpochManagerVal  prometheus.Gauge
	OwnerBalanceWei  prometheus.Gauge
	LastSubmittedAt  prometheus.Gauge
	SubmissionErrors *prometheus.CounterVec
}

// NewMetrics builds a fresh registry and registers every collector. Call
// once at process startup.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "block_oracle",
			Name:      "iterations_total",
			Help:      "Number of oracle loop iterations, labeled by outcome.",
		}, []string{"outcome"}),
		SubgraphEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "block_oracle",
			Name:      "subgraph_latest_epoch",
			Help:      "Latest epoch number reported by the indexer subgraph.",
		}),
		EpochManagerVal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "block_oracle",
			Name:      "epoch_manager_current_epoch",
			Help:      "Current epoch reported by the epoch manager contract.",
		}),
		OwnerBalanceWei: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "block_oracle",
			Name:      "owner_balance_wei",
			Help:      "Protocol-chain ETH balance of the owner address, in wei.",
		}),
		LastSubmittedAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "block_oracle",
			Name:      "last_submission_unix_seconds",
			Help:      "Unix timestamp of the last successful payload submission.",
		}),
		SubmissionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "block_oracle",
			Name:      "iteration_errors_total",
			Help:      "Number of iteration errors, labeled by error kind.",
		}, []string{"kind"}),
	}
}

// Serve starts an HTTP server exposing the registry at /metrics on addr,
// returning once ctx is cancelled or the server fails to start.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return fmt.Errorf("telemetry: metrics server: %w", err)
	}
}
