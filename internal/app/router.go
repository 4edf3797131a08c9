package app

import (
	"net/http"
	"time"

	"orgportal/internal/app/apiresp"
	"orgportal/internal/app/observability"
	"orgportal/internal/auth"
	"orgportal/internal/grading"
	"orgportal/internal/question"
	"orgportal/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// Deps are the already-built services the router mounts.
type Deps struct {
	Config    Config
	Metrics   *observability.Metrics
	Tracer    trace.TracerProvider
	Auth      *auth.Service
	Questions *question.Service
	Grading   *grading.Service
	Reports   *report.Service
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.TraceMiddleware(d.Tracer))
	r.Use(d.Metrics.Middleware)
	r.Use(SecureHeaders)

	authHandler := auth.NewHandler(d.Auth)
	questionHandler := question.NewHandler(d.Questions)
	gradingHandler := grading.NewHandler(d.Grading)
	reportHandler := report.NewHandler(d.Reports)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
			"status":        "ok",
			"open_sessions": d.Grading.OpenSessions(),
			"time":          time.Now().UTC(),
		})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	limiter := NewClientRateLimiter(d.Config.Security.RateLimitPerMinute, d.Config.Security.RateLimitBurst)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RateLimitMiddleware(limiter))
		api.Use(CSRFMiddleware(d.Config.Security.CSRFEnforced))
		api.Use(middleware.AllowContentType("application/json"))

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Use(observability.TagUser)

			secure.Get("/auth/me", authHandler.Me)

			secure.Get("/quizzes", questionHandler.ListQuizzes)
			secure.Get("/quizzes/{id}", questionHandler.GetQuiz)
			secure.Post("/quizzes/{id}/attempts", gradingHandler.SubmitAttempt)
			secure.Get("/attempts/{id}", gradingHandler.GetAttempt)

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))

				admin.Post("/quizzes", questionHandler.CreateQuiz)
				admin.Get("/quizzes/{id}/questions", questionHandler.ListQuestions)
				admin.Post("/quizzes/{id}/questions", questionHandler.AddQuestion)
				admin.Put("/questions/{id}", questionHandler.UpdateQuestion)
				admin.Delete("/questions/{id}", questionHandler.DeleteQuestion)
				admin.Post("/questions/{id}/move", questionHandler.MoveQuestion)

				admin.Get("/quizzes/{id}/attempts", gradingHandler.ListAttempts)
				admin.Get("/quizzes/{id}/summary", reportHandler.Summary)
				admin.Post("/attempts/{id}/grade", gradingHandler.GradeAttempt)
				admin.Post("/attempts/{id}/reviews", gradingHandler.OpenReview)

				admin.Get("/reviews/{sid}", gradingHandler.GetReview)
				admin.Put("/reviews/{sid}/scores/{questionID}", gradingHandler.SetScore)
				admin.Delete("/reviews/{sid}/scores/{questionID}", gradingHandler.ClearScore)
				admin.Put("/reviews/{sid}/feedback/{questionID}", gradingHandler.SetQuestionFeedback)
				admin.Put("/reviews/{sid}/feedback", gradingHandler.SetFeedback)
				admin.Post("/reviews/{sid}/commit", gradingHandler.CommitReview)
				admin.Delete("/reviews/{sid}", gradingHandler.CancelReview)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
