package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_admissions_total",
			Help: "Admission decisions by outcome (admitted or rejection reason)",
		},
		[]string{"outcome"},
	)
	GenerationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_generation_attempts_total",
			Help: "Upstream generation attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_generation_duration_seconds",
			Help:    "End to end generation duration including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"outcome"},
	)
	CredentialsUnhealthyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_credentials_marked_unhealthy_total",
			Help: "Times a credential was taken out of rotation, by failure kind",
		},
		[]string{"kind"},
	)
	CredentialsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_credentials_available",
			Help: "Credentials available at the last selection",
		},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(AdmissionsTotal)
		prometheus.MustRegister(GenerationAttemptsTotal)
		prometheus.MustRegister(GenerationDuration)
		prometheus.MustRegister(CredentialsUnhealthyTotal)
		prometheus.MustRegister(CredentialsAvailable)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = "unmatched"
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
