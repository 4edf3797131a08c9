package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"orgportal/internal/app/apiresp"
	"orgportal/internal/quiz"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	CreateQuiz(ctx context.Context, in CreateQuizInput) (quiz.Quiz, error)
	GetQuiz(ctx context.Context, id uuid.UUID) (quiz.Quiz, error)
	ListQuizzes(ctx context.Context) ([]quiz.Quiz, error)
	ListQuestions(ctx context.Context, quizID uuid.UUID) ([]quiz.Question, error)
	AddQuestion(ctx context.Context, in AddQuestionInput) (quiz.Question, error)
	UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (quiz.Question, error)
	DeleteQuestion(ctx context.Context, id uuid.UUID) error
	Reorder(ctx context.Context, questionID uuid.UUID, dir Direction) (bool, []quiz.Question, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type createQuizRequest struct {
	Title        string `json:"title"`
	PassingScore int    `json:"passing_score"`
	TimeLimit    *int   `json:"time_limit"`
}

type questionRequest struct {
	QuestionText  string        `json:"question_text"`
	QuestionType  string        `json:"question_type"`
	Points        int           `json:"points"`
	OrderIndex    *int          `json:"order_index"`
	Options       []quiz.Option `json:"options"`
	CorrectAnswer *string       `json:"correct_answer"`
}

type moveRequest struct {
	Direction string `json:"direction"`
}

type moveResponse struct {
	Moved     bool            `json:"moved"`
	Questions []quiz.Question `json:"questions"`
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	out, err := h.svc.CreateQuiz(r.Context(), CreateQuizInput{
		Title:        req.Title,
		PassingScore: req.PassingScore,
		TimeLimit:    req.TimeLimit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: out})
}

func (h *Handler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListQuizzes(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteList(w, r, items, len(items))
}

func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "id", "invalid quiz id")
	if !ok {
		return
	}
	out, err := h.svc.GetQuiz(r.Context(), quizID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: out})
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "id", "invalid quiz id")
	if !ok {
		return
	}
	items, err := h.svc.ListQuestions(r.Context(), quizID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteList(w, r, items, len(items))
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	quizID, ok := parseIDParam(w, r, "id", "invalid quiz id")
	if !ok {
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	out, err := h.svc.AddQuestion(r.Context(), AddQuestionInput{
		QuizID:     quizID,
		Text:       req.QuestionText,
		Points:     req.Points,
		Payload:    quiz.BuildPayload(req.QuestionType, req.Options, req.CorrectAnswer),
		OrderIndex: req.OrderIndex,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: out})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseIDParam(w, r, "id", "invalid question id")
	if !ok {
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	if req.OrderIndex != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "order_index can only change through move"})
		return
	}

	out, err := h.svc.UpdateQuestion(r.Context(), UpdateQuestionInput{
		ID:      questionID,
		Text:    req.QuestionText,
		Points:  req.Points,
		Payload: quiz.BuildPayload(req.QuestionType, req.Options, req.CorrectAnswer),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: out})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseIDParam(w, r, "id", "invalid question id")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), questionID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) MoveQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, ok := parseIDParam(w, r, "id", "invalid question id")
	if !ok {
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	dir, err := ParseDirection(req.Direction)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}

	moved, items, err := h.svc.Reorder(r.Context(), questionID, dir)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: moveResponse{Moved: moved, Questions: items}})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, quiz.ErrQuizNotFound), errors.Is(err, quiz.ErrQuestionNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, quiz.ErrInvalidQuiz),
		errors.Is(err, quiz.ErrInvalidQuestion),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidDirection):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrOrderIndexTaken):
		writeJSON(w, r, http.StatusConflict, apiResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, key, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: msg})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
