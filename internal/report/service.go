// Package report gives graders an overview of a quiz's grading queue.
package report

import (
	"context"

	"orgportal/internal/grading"
	"orgportal/internal/quiz"

	"github.com/google/uuid"
)

type Store interface {
	GetQuiz(ctx context.Context, id uuid.UUID) (quiz.Quiz, error)
	ListQuestions(ctx context.Context, quizID uuid.UUID) ([]quiz.Question, error)
	ListAttempts(ctx context.Context, f grading.AttemptFilter) ([]quiz.Attempt, error)
}

type Service struct {
	store Store
}

// QueueSummary counts attempts by grading state. NeedsManual is the subset
// of pending attempts an auto score cannot settle.
type QueueSummary struct {
	QuizID       uuid.UUID `json:"quiz_id"`
	Title        string    `json:"title"`
	Questions    int       `json:"questions"`
	Attempts     int       `json:"attempts"`
	Participants int       `json:"participants"`
	Graded       int       `json:"graded"`
	Pending      int       `json:"pending"`
	NeedsManual  int       `json:"needs_manual"`
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) SummaryByQuiz(ctx context.Context, quizID uuid.UUID) (QueueSummary, error) {
	qz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return QueueSummary{}, err
	}
	questions, err := s.store.ListQuestions(ctx, quizID)
	if err != nil {
		return QueueSummary{}, err
	}
	attempts, err := s.store.ListAttempts(ctx, grading.AttemptFilter{QuizID: quizID})
	if err != nil {
		return QueueSummary{}, err
	}

	out := QueueSummary{QuizID: qz.ID, Title: qz.Title, Questions: len(questions), Attempts: len(attempts)}
	users := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		users[a.UserID] = struct{}{}
		if a.IsGraded {
			out.Graded++
			continue
		}
		out.Pending++
		if grading.NeedsManual(qz, questions, a) {
			out.NeedsManual++
		}
	}
	out.Participants = len(users)
	return out, nil
}
