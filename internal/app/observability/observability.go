// Package observability carries the HTTP access log, Prometheus metrics and
// OpenTelemetry tracing for the API.
package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orgportal/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "orgportal"

// Metrics owns a private registry so tests and multiple routers in one
// process do not collide on registration.
type Metrics struct {
	registry *prometheus.Registry
	log      *zap.Logger

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	attemptsSubmitted prometheus.Counter
	reviewsOpened     prometheus.Counter
	reviewsCommitted  *prometheus.CounterVec
	reviewsCancelled  prometheus.Counter
}

func NewMetrics(log *zap.Logger) *Metrics {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		log:      log,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		attemptsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_submitted_total",
			Help:      "Attempts created by learner submission",
		}),
		reviewsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_sessions_opened_total",
			Help:      "Review sessions opened by graders",
		}),
		reviewsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_sessions_committed_total",
			Help:      "Review sessions committed, by resulting pass state",
		}, []string{"outcome"}),
		reviewsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_sessions_cancelled_total",
			Help:      "Review sessions discarded without saving",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.attemptsSubmitted,
		m.reviewsOpened,
		m.reviewsCommitted,
		m.reviewsCancelled,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterOpenSessions exposes the number of live review sessions.
func (m *Metrics) RegisterOpenSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "review_sessions_open",
		Help:      "Review sessions currently held in memory",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) RegisterDB(db *sql.DB) {
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, namespace))
}

func (m *Metrics) AttemptSubmitted() { m.attemptsSubmitted.Inc() }
func (m *Metrics) ReviewOpened()     { m.reviewsOpened.Inc() }
func (m *Metrics) ReviewCancelled()  { m.reviewsCancelled.Inc() }

func (m *Metrics) ReviewCommitted(passed bool) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.reviewsCommitted.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type accessKey struct{}

// accessInfo is filled in by inner middleware once the caller is known.
type accessInfo struct {
	userID string
}

// Middleware counts requests, observes latency and writes one access log
// line per request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &accessInfo{}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessKey{}, info)))

		elapsed := time.Since(start)
		endpoint := routeLabel(r)
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())

		path := normalizedPath(r.URL.Path)
		m.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("user_id", info.userID),
			zap.String("attempt_id", extractAttemptID(r.URL.Path)),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rec.status),
			zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
			zap.String("remote_ip", strings.TrimSpace(r.RemoteAddr)),
		)
	})
}

// TagUser copies the authenticated user into the access log entry. Mount it
// after auth.RequireAuth.
func TagUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(accessKey{}).(*accessInfo); ok {
			if u, ok := auth.CurrentUser(r.Context()); ok {
				info.userID = u.ID
			}
		}
		next.ServeHTTP(w, r)
	})
}

// routeLabel prefers the matched chi pattern so that metrics stay low
// cardinality; unmatched paths fall back to the normalized URL.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = "{id}"
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractAttemptID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "attempts" {
			if id, err := uuid.Parse(parts[i+1]); err == nil {
				return id.String()
			}
		}
	}
	return ""
}
