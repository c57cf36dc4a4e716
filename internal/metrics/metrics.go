// Package metrics provides Prometheus metrics for the volumefs server.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "volumefs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "volumefs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Patch pipeline metrics
	patchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "volumefs_patches_total",
			Help: "Total file patches applied, by kind and outcome",
		},
		[]string{"kind", "result"},
	)

	patchBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "volumefs_patch_batch_duration_seconds",
			Help:    "Duration of a full patch batch (lock to broadcast)",
			Buckets: prometheus.DefBuckets,
		},
	)

	patchBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "volumefs_patch_batches_total",
			Help: "Total patch batches, by outcome",
		},
		[]string{"result"},
	)

	commitFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "volumefs_commit_failures_total",
			Help: "Total per-file commit failures after the apply phase",
		},
	)

	// Broadcast metrics
	broadcastEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "volumefs_broadcast_events_total",
			Help: "Total change events broadcast to subscribers",
		},
		[]string{"type"},
	)

	subscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "volumefs_subscribers_active",
			Help: "Number of active change subscribers",
		},
	)

	// Volume metrics
	volumesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "volumefs_volumes_active",
			Help: "Number of volumes loaded in this process",
		},
	)

	hydrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "volumefs_hydration_duration_seconds",
			Help:    "Time to hydrate the memory tier from durable storage",
			Buckets: prometheus.DefBuckets,
		},
	)

	hydratedFiles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "volumefs_hydrated_files",
			Help:    "Files loaded per volume hydration",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// Text session metrics
	textSessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "volumefs_text_sessions_live",
			Help: "Text edit sessions currently retained",
		},
	)

	textSessionEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "volumefs_text_session_evictions_total",
			Help: "Text edit sessions evicted by the retention cap",
		},
	)

	staleSessionRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "volumefs_stale_session_rejections_total",
			Help: "Text patches rejected because their session expired",
		},
	)

	// KV backend metrics
	kvOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "volumefs_kv_operation_duration_seconds",
			Help:    "KV backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	kvOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "volumefs_kv_operations_total",
			Help: "Total KV backend operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPatch records a single applied patch by kind.
func RecordPatch(kind string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	patchesTotal.WithLabelValues(kind, result).Inc()
}

// RecordPatchBatch records a completed patch batch.
func RecordPatchBatch(duration time.Duration, committed bool) {
	patchBatchDuration.Observe(duration.Seconds())
	result := "committed"
	if !committed {
		result = "rejected"
	}
	patchBatchesTotal.WithLabelValues(result).Inc()
}

// RecordCommitFailure records a per-file write failure during commit.
func RecordCommitFailure() {
	commitFailuresTotal.Inc()
}

// RecordBroadcastEvent records one broadcast change event.
func RecordBroadcastEvent(deleted bool) {
	eventType := "write"
	if deleted {
		eventType = "delete"
	}
	broadcastEventsTotal.WithLabelValues(eventType).Inc()
}

// SetSubscribersActive sets the number of active subscribers.
func SetSubscribersActive(count int64) {
	subscribersActive.Set(float64(count))
}

// SetVolumesActive sets the number of loaded volumes.
func SetVolumesActive(count int64) {
	volumesActive.Set(float64(count))
}

// RecordHydration records a volume hydration pass.
func RecordHydration(duration time.Duration, files int) {
	hydrationDuration.Observe(duration.Seconds())
	hydratedFiles.Observe(float64(files))
}

// SetTextSessionsLive sets the number of retained text sessions.
func SetTextSessionsLive(count int64) {
	textSessionsLive.Set(float64(count))
}

// RecordTextSessionEviction records one session eviction.
func RecordTextSessionEviction() {
	textSessionEvictionsTotal.Inc()
}

// RecordStaleSessionRejection records a text patch rejected on a missing
// session.
func RecordStaleSessionRejection() {
	staleSessionRejectionsTotal.Inc()
}

// RecordKVOperation records a KV backend operation.
func RecordKVOperation(backend, operation string, duration time.Duration, success bool) {
	kvOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	kvOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
