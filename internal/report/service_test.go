package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"orgportal/internal/grading"
	"orgportal/internal/quiz"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	quiz      quiz.Quiz
	questions []quiz.Question
	attempts  []quiz.Attempt
	err       error
}

func (f fakeStore) GetQuiz(_ context.Context, id uuid.UUID) (quiz.Quiz, error) {
	if id != f.quiz.ID {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	return f.quiz, nil
}

func (f fakeStore) ListQuestions(_ context.Context, _ uuid.UUID) ([]quiz.Question, error) {
	return f.questions, nil
}

func (f fakeStore) ListAttempts(_ context.Context, _ grading.AttemptFilter) ([]quiz.Attempt, error) {
	return f.attempts, f.err
}

func TestSummaryByQuiz(t *testing.T) {
	qz := quiz.Quiz{ID: uuid.New(), Title: "Essays", PassingScore: 50}
	essay := quiz.Question{ID: uuid.New(), QuizID: qz.ID, Text: "Discuss", Points: 10, Payload: quiz.LongAnswer{}}
	svc := NewService(fakeStore{
		quiz:      qz,
		questions: []quiz.Question{essay},
		attempts: []quiz.Attempt{
			{UserID: "a", IsGraded: true, QuestionScores: map[uuid.UUID]int{essay.ID: 8}},
			{UserID: "a"},
			{UserID: "b", QuestionScores: map[uuid.UUID]int{essay.ID: 3}},
		},
	})

	got, err := svc.SummaryByQuiz(context.Background(), qz.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueSummary{
		QuizID:       qz.ID,
		Title:        "Essays",
		Questions:    1,
		Attempts:     3,
		Participants: 2,
		Graded:       1,
		Pending:      2,
		NeedsManual:  1,
	}, got)
}

func TestSummaryByQuizEmpty(t *testing.T) {
	qz := quiz.Quiz{ID: uuid.New(), Title: "Empty"}
	got, err := NewService(fakeStore{quiz: qz}).SummaryByQuiz(context.Background(), qz.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueSummary{QuizID: qz.ID, Title: "Empty"}, got)
}

func TestSummaryErrors(t *testing.T) {
	qz := quiz.Quiz{ID: uuid.New()}
	_, err := NewService(fakeStore{quiz: qz}).SummaryByQuiz(context.Background(), uuid.New())
	assert.ErrorIs(t, err, quiz.ErrQuizNotFound)

	boom := errors.New("boom")
	_, err = NewService(fakeStore{quiz: qz, err: boom}).SummaryByQuiz(context.Background(), qz.ID)
	assert.ErrorIs(t, err, boom)
}

func TestSummaryHandlerStatus(t *testing.T) {
	qz := quiz.Quiz{ID: uuid.New(), Title: "Capitals"}
	r := chi.NewRouter()
	r.Get("/quizzes/{id}/summary", NewHandler(NewService(fakeStore{quiz: qz})).Summary)

	cases := map[string]int{
		"/quizzes/" + qz.ID.String() + "/summary":   http.StatusOK,
		"/quizzes/" + uuid.NewString() + "/summary": http.StatusNotFound,
		"/quizzes/nope/summary":                     http.StatusBadRequest,
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}
