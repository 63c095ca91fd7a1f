// Package metrics exposes AgentVault's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentvault"

// Transfer outcomes.
const (
	OutcomeSubmitted = "submitted"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

var (
	registry = prometheus.NewRegistry()

	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Transfers processed, by chain and outcome.",
	}, []string{"chain", "outcome"})

	transferStageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transfer_stage_seconds",
		Help:      "Time spent in each transfer pipeline stage.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"stage"})

	walletsIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallets_issued_total",
		Help:      "Wallets issued, by chain.",
	}, []string{"chain"})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		transfersTotal,
		transferStageSeconds,
		walletsIssuedTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTransfer counts a finished transfer.
func ObserveTransfer(chain, outcome string) {
	transfersTotal.WithLabelValues(chain, outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	transferStageSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveWalletIssued counts an issued wallet.
func ObserveWalletIssued(chain string) {
	walletsIssuedTotal.WithLabelValues(chain).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
