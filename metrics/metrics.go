// Package metrics exposes Prometheus counters for the provisioning
// components and a standalone metrics HTTP server that serves them.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devstack-core/secrets-provisioning/common"
)

// namespace prefixes all metric names exported by this repository.
var namespace = common.PackageName

var (
	// UnsealAttempts counts seal-status polls and share submissions by outcome.
	UnsealAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unseal_attempts_total",
		Help:      "Number of store unseal attempts, labeled by outcome.",
	}, []string{"outcome"})

	// BootstrapSteps counts orchestrator state transitions by step and result.
	BootstrapSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bootstrap_steps_total",
		Help:      "Number of bootstrap steps executed, labeled by step name and result (applied/skipped/failed).",
	}, []string{"step", "result"})

	// CertRenewals counts certificate renewal attempts by service and result.
	CertRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "certificate_renewals_total",
		Help:      "Number of certificate renewals, labeled by service and result.",
	}, []string{"service", "result"})

	// CertRevocations counts certificate revocations by service.
	CertRevocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "certificate_revocations_total",
		Help:      "Number of certificate revocations, labeled by service.",
	}, []string{"service"})
)

// MetricsServer serves the Prometheus registry on a dedicated listener,
// separate from the API listener so scrapes never compete with API traffic.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address.
func New(listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:    listenAddr,
			Handler: mux,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown is called.
func (srv *MetricsServer) ListenAndServe() error {
	return srv.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (srv *MetricsServer) Shutdown(ctx context.Context) error {
	return srv.srv.Shutdown(ctx)
}
