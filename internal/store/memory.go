package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orgportal/internal/grading"
	"orgportal/internal/question"
	"orgportal/internal/quiz"

	"github.com/google/uuid"
)

// Memory keeps everything in process maps. It backs local runs and tests;
// data is lost on restart.
type Memory struct {
	mu        sync.RWMutex
	quizzes   map[uuid.UUID]quiz.Quiz
	questions map[uuid.UUID]quiz.Question
	attempts  map[uuid.UUID]quiz.Attempt
}

var (
	_ question.Store = (*Memory)(nil)
	_ grading.Store  = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		quizzes:   make(map[uuid.UUID]quiz.Quiz),
		questions: make(map[uuid.UUID]quiz.Question),
		attempts:  make(map[uuid.UUID]quiz.Attempt),
	}
}

func (m *Memory) CreateQuiz(_ context.Context, qz quiz.Quiz) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.quizzes[qz.ID]; exists {
		return fmt.Errorf("insert quiz: duplicate id %s", qz.ID)
	}
	m.quizzes[qz.ID] = qz
	return nil
}

func (m *Memory) GetQuiz(_ context.Context, id uuid.UUID) (quiz.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qz, ok := m.quizzes[id]
	if !ok {
		return quiz.Quiz{}, quiz.ErrQuizNotFound
	}
	return qz, nil
}

func (m *Memory) ListQuizzes(_ context.Context) ([]quiz.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]quiz.Quiz, 0, len(m.quizzes))
	for _, qz := range m.quizzes {
		out = append(out, qz)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) ListQuestions(_ context.Context, quizID uuid.UUID) ([]quiz.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.questionsOfLocked(quizID), nil
}

func (m *Memory) questionsOfLocked(quizID uuid.UUID) []quiz.Question {
	var out []quiz.Question
	for _, q := range m.questions {
		if q.QuizID == quizID {
			out = append(out, q)
		}
	}
	question.SortByOrder(out)
	return out
}

func (m *Memory) GetQuestion(_ context.Context, id uuid.UUID) (quiz.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	return q, nil
}

func (m *Memory) InsertQuestion(_ context.Context, q quiz.Question, appendAtEnd bool) (quiz.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[q.QuizID]; !ok {
		return quiz.Question{}, quiz.ErrQuizNotFound
	}

	siblings := m.questionsOfLocked(q.QuizID)
	if appendAtEnd {
		q.OrderIndex = 0
		if n := len(siblings); n > 0 {
			q.OrderIndex = siblings[n-1].OrderIndex + 1
		}
	} else {
		for _, s := range siblings {
			if s.OrderIndex == q.OrderIndex {
				return quiz.Question{}, fmt.Errorf("%w: %d", question.ErrOrderIndexTaken, q.OrderIndex)
			}
		}
	}
	m.questions[q.ID] = q
	return q, nil
}

func (m *Memory) UpdateQuestion(_ context.Context, q quiz.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.questions[q.ID]
	if !ok {
		return quiz.ErrQuestionNotFound
	}
	current.Text = q.Text
	current.Points = q.Points
	current.Payload = q.Payload
	m.questions[q.ID] = current
	return nil
}

func (m *Memory) DeleteQuestion(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[id]; !ok {
		return quiz.ErrQuestionNotFound
	}
	delete(m.questions, id)
	return nil
}

// SwapOrder holds the write lock across pick and both writes, so readers
// never see the two questions sharing an index.
func (m *Memory) SwapOrder(_ context.Context, quizID uuid.UUID, pick question.PickFunc) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, b, ok := pick(m.questionsOfLocked(quizID))
	if !ok {
		return false, nil
	}
	qa, okA := m.questions[a]
	qb, okB := m.questions[b]
	if !okA || !okB || qa.QuizID != quizID || qb.QuizID != quizID {
		return false, quiz.ErrQuestionNotFound
	}
	qa.OrderIndex, qb.OrderIndex = qb.OrderIndex, qa.OrderIndex
	m.questions[a] = qa
	m.questions[b] = qb
	return true, nil
}

func (m *Memory) CreateAttempt(_ context.Context, a quiz.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quizzes[a.QuizID]; !ok {
		return quiz.ErrQuizNotFound
	}
	if _, exists := m.attempts[a.ID]; exists {
		return fmt.Errorf("insert attempt: duplicate id %s", a.ID)
	}
	m.attempts[a.ID] = a.Clone()
	return nil
}

func (m *Memory) GetAttempt(_ context.Context, id uuid.UUID) (quiz.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	return a.Clone(), nil
}

func (m *Memory) ListAttempts(_ context.Context, f grading.AttemptFilter) ([]quiz.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []quiz.Attempt
	for _, a := range m.attempts {
		if a.QuizID != f.QuizID {
			continue
		}
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.PendingOnly && a.IsGraded {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.Before(out[j].CompletedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) SaveGrading(_ context.Context, u grading.GradingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[u.AttemptID]
	if !ok {
		return quiz.ErrAttemptNotFound
	}
	if u.CheckStale && !sameInstant(a.GradedAt, u.ExpectGradedAt) {
		return grading.ErrStaleReview
	}
	a.Score = u.Score
	a.Percentage = u.Percentage
	a.Passed = u.Passed
	a.IsGraded = u.IsGraded
	a.GradedBy = u.GradedBy
	a.GradedAt = u.GradedAt
	a.QuestionScores = u.QuestionScores
	a.QuestionFeedback = u.QuestionFeedback
	a.Feedback = u.Feedback
	m.attempts[a.ID] = a.Clone()
	return nil
}
