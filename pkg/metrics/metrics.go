// Package metrics exposes Prometheus counters for the HTTP front end and
// the budget engines.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubesatbudget_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubesatbudget_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	calculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubesatbudget_calculations_total",
			Help: "Budget calculations by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)

	calculationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubesatbudget_calculation_duration_seconds",
			Help:    "Budget calculation duration in seconds.",
			Buckets: []float64{.00001, .0001, .001, .01, .1},
		},
		[]string{"engine"},
	)

	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubesatbudget_exports_total",
			Help: "Generated exports by format and outcome.",
		},
		[]string{"format", "outcome"},
	)

	projectOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubesatbudget_project_operations_total",
			Help: "Project operations by kind and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(calculationsTotal)
	prometheus.MustRegister(calculationSeconds)
	prometheus.MustRegister(exportsTotal)
	prometheus.MustRegister(projectOpsTotal)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveCalculation records one engine run.
func ObserveCalculation(engine string, d time.Duration, err error) {
	calculationsTotal.WithLabelValues(engine, outcome(err)).Inc()
	calculationSeconds.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveExport records one generated export.
func ObserveExport(format string, err error) {
	exportsTotal.WithLabelValues(format, outcome(err)).Inc()
}

// ObserveProjectOp records one project operation (create, open, save...).
func ObserveProjectOp(op string, err error) {
	projectOpsTotal.WithLabelValues(op, outcome(err)).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request. Requests
// are labelled with the matched route pattern so path parameters do not
// create new series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
