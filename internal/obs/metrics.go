package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authzChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_authz_checks_total",
			Help: "Authorization checks by kind and outcome (granted, denied, failed).",
		},
		[]string{"kind", "outcome"},
	)

	authzCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_authz_check_duration_seconds",
			Help:    "Latency of remote authorization checks.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"},
	)

	batchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_admin_batch_items_total",
			Help: "Items processed by bulk administration operations.",
		},
		[]string{"op", "result"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agora_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzChecksTotal, authzCheckDuration, batchItemsTotal, ready,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck records one authorization check.
func ObserveCheck(kind, outcome string, d time.Duration) {
	authzChecksTotal.WithLabelValues(kind, outcome).Inc()
	authzCheckDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// CountBatchItems records n items of a bulk operation with the given result.
func CountBatchItems(op, result string, n int) {
	if n <= 0 {
		return
	}
	batchItemsTotal.WithLabelValues(op, result).Add(float64(n))
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures request rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// collections whose next path segment is an identifier.
var collections = map[string]string{
	"roles":       ":id",
	"permissions": ":id",
	"users":       ":id",
	"delegations": ":id",
	"assignments": ":id",
	"templates":   ":name",
	"field-rules": ":entity",
}

var reservedSegments = map[string]struct{}{
	"bulk":   {},
	"expire": {},
}

// CanonicalPath collapses identifiers so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	for i := 1; i < len(parts); i++ {
		placeholder, ok := collections[parts[i-1]]
		if !ok || parts[i] == "" {
			continue
		}
		if _, reserved := reservedSegments[parts[i]]; reserved {
			continue
		}
		parts[i] = placeholder
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
