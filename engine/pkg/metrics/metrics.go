package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wapor_build_info",
			Help: "Build information of the WaPOR composition engine",
		},
		[]string{"version", "commit", "date"},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wapor_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"product", "status"},
	)

	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wapor_pipeline_run_duration_seconds",
			Help:    "Duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
		[]string{"product"},
	)

	CardinalityErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wapor_cardinality_errors_total",
			Help: "Total number of collections with an unexpected size",
		},
		[]string{"product"},
	)

	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wapor_exports_total",
			Help: "Total number of export submissions",
		},
		[]string{"product", "status"},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wapor_backend_requests_total",
			Help: "Total number of requests to the geospatial backend",
		},
		[]string{"op", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wapor_backend_request_duration_seconds",
			Help:    "Duration of requests to the geospatial backend",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"op"},
	)

	LedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wapor_ledger_writes_total",
			Help: "Total number of run ledger writes",
		},
		[]string{"status"},
	)
)

// Push sends the default registry to a Prometheus Pushgateway. Batch runs
// exit before a scrape could happen, so the CLI pushes once at the end.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
