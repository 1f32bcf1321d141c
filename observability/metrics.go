package observability

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dusd",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dusd",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dusd",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dusd",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// VaultMetrics captures engine operation outcomes and liquidation activity.
type VaultMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	failures     *prometheus.CounterVec
	liquidations prometheus.Counter
}

// Vault returns the singleton metrics registry for vault engine operations.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dusd",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Count of vault engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dusd",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dusd",
				Subsystem: "vault",
				Name:      "failures_total",
				Help:      "Count of rejected vault operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dusd",
				Subsystem: "vault",
				Name:      "liquidations_total",
				Help:      "Count of completed liquidations.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.failures,
			vaultRegistry.liquidations,
		)
	})
	return vaultRegistry
}

// Observe records the execution metrics for a vault engine operation.
func (m *VaultMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(op, failureReason(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
	if op == "liquidate" && err == nil {
		m.liquidations.Inc()
	}
}

// failureReason collapses an error chain to its root sentinel text so label
// cardinality stays bounded.
func failureReason(err error) string {
	root := err
	for {
		unwrapped := errors.Unwrap(root)
		if unwrapped == nil {
			break
		}
		root = unwrapped
	}
	reason := strings.TrimSpace(root.Error())
	if reason == "" {
		return "unknown"
	}
	if len(reason) > 64 {
		reason = reason[:64]
	}
	return reason
}

// OracleMetrics tracks price submissions and the freshness of served quotes.
type OracleMetrics struct {
	submissions *prometheus.CounterVec
	quoteAge    *prometheus.GaugeVec
}

// Oracle returns the singleton metrics registry for oracle submissions.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dusd",
				Subsystem: "oracle",
				Name:      "submissions_total",
				Help:      "Count of oracle price submissions segmented by feed and outcome.",
			}, []string{"feed", "outcome"}),
			quoteAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "dusd",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age of the most recently accepted quote per feed.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(oracleRegistry.submissions, oracleRegistry.quoteAge)
	})
	return oracleRegistry
}

// RecordSubmission tracks a price submission and, on success, resets the
// quote age gauge for the feed.
func (m *OracleMetrics) RecordSubmission(feed string, age time.Duration, err error) {
	if m == nil {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(feed))
	if normalized == "" {
		normalized = "unknown"
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	m.submissions.WithLabelValues(normalized, outcome).Inc()
	if err == nil {
		m.quoteAge.WithLabelValues(normalized).Set(age.Seconds())
	}
}
