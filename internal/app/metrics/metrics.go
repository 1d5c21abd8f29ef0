package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ipnNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "ipn",
			Name:      "notifications_total",
			Help:      "Payment notifications processed, by outcome.",
		},
		[]string{"outcome"},
	)

	ipnVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "ipn",
			Name:      "verify_duration_seconds",
			Help:      "Duration of provider verification round trips.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"verified"},
	)

	purchasesPrepared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "purchases",
			Name:      "prepared_total",
			Help:      "Pending transactions created.",
		},
	)

	stalePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storefront",
			Name:      "pending_transactions_stale",
			Help:      "Pending transactions older than the configured age at the last check.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ipnNotifications,
		ipnVerifyDuration,
		purchasesPrepared,
		stalePending,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordNotification counts one processed payment notification.
func RecordNotification(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	ipnNotifications.WithLabelValues(outcome).Inc()
}

// RecordVerification records a provider verification round trip.
func RecordVerification(duration time.Duration, verified bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	ipnVerifyDuration.WithLabelValues(strconv.FormatBool(verified)).Observe(duration.Seconds())
}

// RecordPurchasePrepared counts a new pending transaction.
func RecordPurchasePrepared() {
	purchasesPrepared.Inc()
}

// SetStalePending publishes the latest stale pending transaction count.
func SetStalePending(count int) {
	stalePending.Set(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses ids so label cardinality stays bounded:
// /me/products/42/activation becomes /me/products/:id/activation.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i-1] == "products" {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
