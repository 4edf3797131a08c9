package report

import (
	"context"
	"errors"
	"net/http"

	"orgportal/internal/app/apiresp"
	"orgportal/internal/quiz"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type summaryService interface {
	SummaryByQuiz(ctx context.Context, quizID uuid.UUID) (QueueSummary, error)
}

type Handler struct {
	svc summaryService
}

func NewHandler(svc summaryService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	quizID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid quiz id")
		return
	}
	out, err := h.svc.SummaryByQuiz(r.Context(), quizID)
	switch {
	case err == nil:
		apiresp.WriteOK(w, r, http.StatusOK, out)
	case errors.Is(err, quiz.ErrQuizNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
