package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orgportal/internal/grading"
	"orgportal/internal/question"
	"orgportal/internal/quiz"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedQuiz(t *testing.T, m *Memory) quiz.Quiz {
	t.Helper()
	qz := quiz.Quiz{ID: uuid.New(), Title: "Capitals", PassingScore: 70, CreatedAt: time.Now().UTC()}
	require.NoError(t, m.CreateQuiz(context.Background(), qz))
	return qz
}

func shortQuestion(quizID uuid.UUID, text string) quiz.Question {
	return quiz.Question{
		ID:      uuid.New(),
		QuizID:  quizID,
		Text:    text,
		Points:  1,
		Payload: quiz.ShortAnswer{CorrectAnswer: "x"},
	}
}

func TestMemoryInsertAppendsAfterMax(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	qz := seedQuiz(t, m)

	first, err := m.InsertQuestion(ctx, shortQuestion(qz.ID, "a"), true)
	require.NoError(t, err)
	assert.Equal(t, 0, first.OrderIndex)

	gap := shortQuestion(qz.ID, "b")
	gap.OrderIndex = 7
	_, err = m.InsertQuestion(ctx, gap, false)
	require.NoError(t, err)

	last, err := m.InsertQuestion(ctx, shortQuestion(qz.ID, "c"), true)
	require.NoError(t, err)
	assert.Equal(t, 8, last.OrderIndex)
}

func TestMemoryInsertRejectsTakenIndex(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	qz := seedQuiz(t, m)

	_, err := m.InsertQuestion(ctx, shortQuestion(qz.ID, "a"), true)
	require.NoError(t, err)

	dup := shortQuestion(qz.ID, "b")
	dup.OrderIndex = 0
	_, err = m.InsertQuestion(ctx, dup, false)
	assert.ErrorIs(t, err, question.ErrOrderIndexTaken)

	_, err = m.InsertQuestion(ctx, shortQuestion(uuid.New(), "c"), true)
	assert.ErrorIs(t, err, quiz.ErrQuizNotFound)
}

func TestMemoryUpdateKeepsPlacement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	qz := seedQuiz(t, m)
	q, err := m.InsertQuestion(ctx, shortQuestion(qz.ID, "a"), true)
	require.NoError(t, err)

	edit := q
	edit.Text = "edited"
	edit.OrderIndex = 42
	edit.QuizID = uuid.New()
	require.NoError(t, m.UpdateQuestion(ctx, edit))

	got, err := m.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Text)
	assert.Equal(t, 0, got.OrderIndex)
	assert.Equal(t, qz.ID, got.QuizID)

	assert.ErrorIs(t, m.UpdateQuestion(ctx, shortQuestion(qz.ID, "ghost")), quiz.ErrQuestionNotFound)
	assert.ErrorIs(t, m.DeleteQuestion(ctx, uuid.New()), quiz.ErrQuestionNotFound)
}

func TestMemorySwapOrderConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	qz := seedQuiz(t, m)
	for i := 0; i < 5; i++ {
		_, err := m.InsertQuestion(ctx, shortQuestion(qz.ID, "q"), true)
		require.NoError(t, err)
	}

	pickFirstTwo := func(ordered []quiz.Question) (uuid.UUID, uuid.UUID, bool) {
		if len(ordered) < 2 {
			return uuid.Nil, uuid.Nil, false
		}
		return ordered[0].ID, ordered[1].ID, true
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.SwapOrder(ctx, qz.ID, pickFirstTwo)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	items, err := m.ListQuestions(ctx, qz.ID)
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, q := range items {
		assert.False(t, seen[q.OrderIndex], "order_index %d repeated", q.OrderIndex)
		seen[q.OrderIndex] = true
	}
	assert.Len(t, seen, 5)
}

func TestMemorySwapOrderNoop(t *testing.T) {
	m := NewMemory()
	qz := seedQuiz(t, m)
	moved, err := m.SwapOrder(context.Background(), qz.ID, func([]quiz.Question) (uuid.UUID, uuid.UUID, bool) {
		return uuid.Nil, uuid.Nil, false
	})
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestMemoryAttemptsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	qz := seedQuiz(t, m)
	qid := uuid.New()

	a := quiz.Attempt{
		ID:               uuid.New(),
		QuizID:           qz.ID,
		UserID:           "u1",
		Answers:          map[uuid.UUID]string{qid: "x"},
		QuestionScores:   map[uuid.UUID]int{},
		QuestionFeedback: map[uuid.UUID]string{},
		CompletedAt:      time.Now().UTC(),
	}
	require.NoError(t, m.CreateAttempt(ctx, a))
	a.Answers[qid] = "mutated"

	got, err := m.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Answers[qid])

	got.Answers[qid] = "mutated again"
	again, err := m.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", again.Answers[qid])

	_, err = m.GetAttempt(ctx, uuid.New())
	assert.ErrorIs(t, err, quiz.ErrAttemptNotFound)

	orphan := a
	orphan.ID = uuid.New()
	orphan.QuizID = uuid.New()
	assert.ErrorIs(t, m.CreateAttempt(ctx, orphan), quiz.ErrQuizNotFound)
}

func TestMemoryListAttemptsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	qz := seedQuiz(t, m)
	other := seedQuiz(t, m)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mk := func(quizID uuid.UUID, user string, offset time.Duration, graded bool) quiz.Attempt {
		a := quiz.Attempt{
			ID:          uuid.New(),
			QuizID:      quizID,
			UserID:      user,
			CompletedAt: base.Add(offset),
			IsGraded:    graded,
		}
		require.NoError(t, m.CreateAttempt(ctx, a))
		return a
	}
	late := mk(qz.ID, "alice", 2*time.Minute, false)
	early := mk(qz.ID, "bob", time.Minute, false)
	graded := mk(qz.ID, "alice", 3*time.Minute, true)
	mk(other.ID, "alice", 0, false)

	all, err := m.ListAttempts(ctx, grading.AttemptFilter{QuizID: qz.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{early.ID, late.ID, graded.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

	pending, err := m.ListAttempts(ctx, grading.AttemptFilter{QuizID: qz.ID, PendingOnly: true})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	alice, err := m.ListAttempts(ctx, grading.AttemptFilter{QuizID: qz.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)
}

func TestMemorySaveGradingStaleCheck(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	qz := seedQuiz(t, m)
	a := quiz.Attempt{ID: uuid.New(), QuizID: qz.ID, UserID: "u1", CompletedAt: time.Now().UTC()}
	require.NoError(t, m.CreateAttempt(ctx, a))

	reviewer := "admin-1"
	first := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveGrading(ctx, grading.GradingUpdate{
		AttemptID:  a.ID,
		Score:      4,
		Percentage: 40,
		IsGraded:   true,
		GradedBy:   &reviewer,
		GradedAt:   &first,
		CheckStale: true,
	}))

	second := first.Add(time.Hour)
	err := m.SaveGrading(ctx, grading.GradingUpdate{
		AttemptID:  a.ID,
		Score:      9,
		IsGraded:   true,
		GradedAt:   &second,
		CheckStale: true,
	})
	assert.True(t, errors.Is(err, grading.ErrStaleReview))

	require.NoError(t, m.SaveGrading(ctx, grading.GradingUpdate{
		AttemptID:      a.ID,
		Score:          9,
		IsGraded:       true,
		GradedAt:       &second,
		CheckStale:     true,
		ExpectGradedAt: &first,
	}))
	got, err := m.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Score)
	require.NotNil(t, got.GradedAt)
	assert.True(t, got.GradedAt.Equal(second))

	assert.ErrorIs(t, m.SaveGrading(ctx, grading.GradingUpdate{AttemptID: uuid.New()}), quiz.ErrAttemptNotFound)
}

func TestSameInstant(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.In(time.FixedZone("x", 3600))
	assert.True(t, sameInstant(nil, nil))
	assert.True(t, sameInstant(&a, &b))
	assert.False(t, sameInstant(&a, nil))
	assert.False(t, sameInstant(nil, &b))
}
