package grading

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"orgportal/internal/app/apiresp"
	"orgportal/internal/auth"
	"orgportal/internal/quiz"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	svc gradingService
}

type gradingService interface {
	SubmitAttempt(ctx context.Context, in SubmitInput) (AttemptView, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (AttemptView, error)
	ListAttempts(ctx context.Context, f AttemptFilter) ([]AttemptView, error)
	OpenReview(ctx context.Context, attemptID uuid.UUID, reviewer string) (ReviewView, error)
	GetReview(ctx context.Context, sessionID uuid.UUID) (ReviewView, error)
	SetScore(ctx context.Context, sessionID, questionID uuid.UUID, points int) (ReviewView, error)
	ClearScore(ctx context.Context, sessionID, questionID uuid.UUID) (ReviewView, error)
	SetQuestionFeedback(ctx context.Context, sessionID, questionID uuid.UUID, text string) (ReviewView, error)
	SetFeedback(ctx context.Context, sessionID uuid.UUID, text string) (ReviewView, error)
	CommitReview(ctx context.Context, sessionID uuid.UUID, reviewer string) (AttemptView, error)
	CancelReview(ctx context.Context, sessionID uuid.UUID)
	GradeAttempt(ctx context.Context, in GradeInput) (AttemptView, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type submitAttemptRequest struct {
	UserID      string               `json:"user_id"`
	Answers     map[uuid.UUID]string `json:"answers"`
	StartedAt   string               `json:"started_at"`
	CompletedAt string               `json:"completed_at"`
}

type setScoreRequest struct {
	Points *int `json:"points"`
}

type feedbackRequest struct {
	Text string `json:"text"`
}

type gradeRequest struct {
	Scores []struct {
		QuestionID uuid.UUID `json:"question_id"`
		Points     *int      `json:"points"`
		Clear      bool      `json:"clear"`
		Feedback   *string   `json:"feedback"`
	} `json:"scores"`
	Feedback *string `json:"feedback"`
}

func NewHandler(svc gradingService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	quizID, ok := uuidParam(w, r, "id", "invalid quiz id")
	if !ok {
		return
	}
	var req submitAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	if user.IsAdmin() {
		if strings.TrimSpace(req.UserID) == "" {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "user_id is required for admin"})
			return
		}
	} else {
		if req.UserID != "" && req.UserID != user.ID {
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
			return
		}
		req.UserID = user.ID
	}

	startedAt, err := parseOptionalTime(req.StartedAt)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "started_at must be RFC3339"})
		return
	}
	completedAt, err := parseOptionalTime(req.CompletedAt)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "completed_at must be RFC3339"})
		return
	}

	view, err := h.svc.SubmitAttempt(r.Context(), SubmitInput{
		QuizID:      quizID,
		UserID:      req.UserID,
		Answers:     req.Answers,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: view})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := uuidParam(w, r, "id", "invalid attempt id")
	if !ok {
		return
	}
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	view, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !user.IsAdmin() && view.UserID != user.ID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	quizID, ok := uuidParam(w, r, "id", "invalid quiz id")
	if !ok {
		return
	}
	pending := false
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("pending"))) {
	case "1", "true", "yes":
		pending = true
	}

	views, err := h.svc.ListAttempts(r.Context(), AttemptFilter{
		QuizID:      quizID,
		UserID:      strings.TrimSpace(r.URL.Query().Get("user_id")),
		PendingOnly: pending,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteList(w, r, views, len(views))
}

func (h *Handler) OpenReview(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := uuidParam(w, r, "id", "invalid attempt id")
	if !ok {
		return
	}
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	view, err := h.svc.OpenReview(r.Context(), attemptID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: view})
}

func (h *Handler) GetReview(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sid", "invalid session id")
	if !ok {
		return
	}
	view, err := h.svc.GetReview(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) SetScore(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sid", "invalid session id")
	if !ok {
		return
	}
	questionID, ok := uuidParam(w, r, "questionID", "invalid question id")
	if !ok {
		return
	}
	var req setScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Points == nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "points is required"})
		return
	}

	view, err := h.svc.SetScore(r.Context(), sessionID, questionID, *req.Points)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) ClearScore(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sid", "invalid session id")
	if !ok {
		return
	}
	questionID, ok := uuidParam(w, r, "questionID", "invalid question id")
	if !ok {
		return
	}

	view, err := h.svc.ClearScore(r.Context(), sessionID, questionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) SetQuestionFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sid", "invalid session id")
	if !ok {
		return
	}
	questionID, ok := uuidParam(w, r, "questionID", "invalid question id")
	if !ok {
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	view, err := h.svc.SetQuestionFeedback(r.Context(), sessionID, questionID, req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) SetFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sid", "invalid session id")
	if !ok {
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	view, err := h.svc.SetFeedback(r.Context(), sessionID, req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) CommitReview(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sid", "invalid session id")
	if !ok {
		return
	}
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	view, err := h.svc.CommitReview(r.Context(), sessionID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) CancelReview(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sid", "invalid session id")
	if !ok {
		return
	}
	h.svc.CancelReview(r.Context(), sessionID)
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "cancelled"}})
}

func (h *Handler) GradeAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := uuidParam(w, r, "id", "invalid attempt id")
	if !ok {
		return
	}
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	in := GradeInput{AttemptID: attemptID, Reviewer: user.ID, Feedback: req.Feedback}
	for _, s := range req.Scores {
		if s.QuestionID == uuid.Nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "scores[].question_id is required"})
			return
		}
		in.Scores = append(in.Scores, ScoreEdit{
			QuestionID: s.QuestionID,
			Points:     s.Points,
			Clear:      s.Clear,
			Feedback:   s.Feedback,
		})
	}

	view, err := h.svc.GradeAttempt(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, quiz.ErrQuizNotFound),
		errors.Is(err, quiz.ErrAttemptNotFound),
		errors.Is(err, ErrSessionNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, quiz.ErrQuestionNotInQuiz), errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrStaleReview):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "stale_review", err.Error())
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, key, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: msg})
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalTime(raw string) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
