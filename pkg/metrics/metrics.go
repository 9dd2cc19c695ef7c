// Package metrics exposes the Prometheus registry shared by all packages.
// Metrics are defined with promauto next to the code that updates them
// (async, fetchcache, resulttree, progress, transport, cache, ratelimit) to
// avoid circular dependencies; this package documents them and serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by every package.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// CounterValue sums every series of the named counter. It returns 0 when the
// counter has not been registered or observed.
func CounterValue(name string) float64 {
	families, err := Gatherer.Gather()
	if err != nil {
		return 0
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// Metrics Documentation
//
// Coordination (pkg/async):
//   - watcher_operations_total{watcher, outcome} (Counter): Terminal events by watcher
//   - watcher_operation_duration_seconds{watcher} (Histogram): Registration to terminal event
//
// Artifact cache (pkg/fetchcache):
//   - fetchcache_fetches_total{outcome} (Counter): hit, available, failed, timed_out, cancelled
//   - fetchcache_dedup_total (Counter): Fetch calls attached to an in-flight key
//   - fetchcache_bytes_written_total (Counter): Artifact bytes written to disk
//   - fetchcache_in_flight (Gauge): Keys with an outstanding transport call
//
// Result tree and progress (pkg/resulttree, pkg/progress):
//   - resulttree_pages_total{outcome} (Counter): Search pages by outcome
//   - progress_pages_total{outcome} (Counter): Resource pages by outcome
//
// Requests (pkg/transport):
//   - catalog_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - catalog_request_duration_seconds{method} (Histogram): Request duration
//   - catalog_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - catalog_retries_total{error_class} (Counter): Retry attempts
//   - catalog_retry_backoff_seconds{error_class} (Histogram): Backoff waited before a retry
//   - catalog_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Response cache (pkg/cache):
//   - catalog_response_cache_hits_total{layer} (Counter): Hits by layer (memory, redis)
//   - catalog_response_cache_misses_total (Counter): Misses
//   - catalog_304_responses_total (Counter): 304 Not Modified responses
//   - catalog_conditional_requests_total (Counter): Conditional requests sent
//   - catalog_response_cache_size_bytes{layer} (Gauge): Bytes of cached responses
//   - catalog_response_cache_errors_total{operation} (Counter): Redis errors
//
// Rate limit (pkg/ratelimit):
//   - catalog_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - catalog_rate_limit_blocks_total (Counter): Requests rejected or held until reset
//   - catalog_rate_limit_throttles_total (Counter): Requests delayed in the warning band
//   - catalog_rate_limit_waits_total (Counter): Requests that waited for the local limiter
//
// Example Prometheus Queries:
//
//   # Thumbnail dedup ratio
//   rate(fetchcache_dedup_total[5m]) / rate(fetchcache_fetches_total[5m])
//
//   # Page timeouts
//   rate(watcher_operations_total{outcome="timed_out"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(catalog_request_duration_seconds_bucket[5m]))
