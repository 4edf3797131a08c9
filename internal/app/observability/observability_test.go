package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"orgportal/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizedPath(t *testing.T) {
	id := uuid.NewString()
	got := normalizedPath("/api/v1/attempts/" + id + "/grade")
	assert.Equal(t, "/api/v1/attempts/{id}/grade", got)

	assert.Equal(t, "/api/v1/legacy/{id}", normalizedPath("/api/v1/legacy/42"))
	assert.Equal(t, "/", normalizedPath(""))
}

func TestExtractAttemptID(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, id, extractAttemptID("/api/v1/attempts/"+id+"/reviews"))
	assert.Equal(t, "", extractAttemptID("/api/v1/quizzes/"+id))
	assert.Equal(t, "", extractAttemptID("/api/v1/attempts/not-a-uuid"))
}

func TestMiddlewareRecordsAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewMetrics(zap.New(core))

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Group(func(secure chi.Router) {
		secure.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: "learner-7", Role: auth.RoleLearner})))
			})
		})
		secure.Use(TagUser)
		secure.Get("/api/v1/attempts/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	})

	id := uuid.NewString()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attempts/"+id, nil))
	require.Equal(t, http.StatusTeapot, w.Code)

	assert.Contains(t, scrape(t, m), `orgportal_http_requests_total{endpoint="/api/v1/attempts/{id}",method="GET",status="418"} 1`)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "learner-7", fields["user_id"])
	assert.Equal(t, id, fields["attempt_id"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "/api/v1/attempts/{id}", fields["path"])
}

func TestRecorderCounters(t *testing.T) {
	m := NewMetrics(nil)
	m.AttemptSubmitted()
	m.AttemptSubmitted()
	m.ReviewOpened()
	m.ReviewCommitted(true)
	m.ReviewCommitted(false)
	m.ReviewCommitted(false)
	m.ReviewCancelled()

	body := scrape(t, m)
	assert.Contains(t, body, "orgportal_attempts_submitted_total 2")
	assert.Contains(t, body, "orgportal_review_sessions_opened_total 1")
	assert.Contains(t, body, `orgportal_review_sessions_committed_total{outcome="passed"} 1`)
	assert.Contains(t, body, `orgportal_review_sessions_committed_total{outcome="failed"} 2`)
	assert.Contains(t, body, "orgportal_review_sessions_cancelled_total 1")
}

func TestHandlerExposesSessionGauge(t *testing.T) {
	m := NewMetrics(nil)
	open := 3
	m.RegisterOpenSessions(func() int { return open })

	assert.Contains(t, scrape(t, m), "orgportal_review_sessions_open 3")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}
