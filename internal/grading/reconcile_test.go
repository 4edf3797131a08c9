package grading

import (
	"testing"

	"orgportal/internal/quiz"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	quiz      quiz.Quiz
	questions []quiz.Question
	mc        quiz.Question
	short     quiz.Question
}

func newFixture() fixture {
	qz := quiz.Quiz{ID: uuid.New(), Title: "Capitals", PassingScore: 70}
	mc := quiz.Question{
		ID: uuid.New(), QuizID: qz.ID, Text: "Pick B", Points: 5, OrderIndex: 0,
		Payload: quiz.MultipleChoice{Options: []quiz.Option{{Text: "A"}, {Text: "B", Correct: true}, {Text: "C"}}},
	}
	short := quiz.Question{
		ID: uuid.New(), QuizID: qz.ID, Text: "Capital of Italy", Points: 5, OrderIndex: 1,
		Payload: quiz.ShortAnswer{CorrectAnswer: "Rome"},
	}
	return fixture{quiz: qz, questions: []quiz.Question{mc, short}, mc: mc, short: short}
}

func TestAggregate_EndToEndScenario(t *testing.T) {
	f := newFixture()
	a := quiz.Attempt{
		QuizID:  f.quiz.ID,
		Answers: map[uuid.UUID]string{f.mc.ID: "B", f.short.ID: "rome"},
	}

	res := Aggregate(f.quiz, f.questions, a)
	assert.Equal(t, Result{Score: 10, Percentage: 100, Passed: true, TotalPossible: 10}, res)

	a.QuestionScores = map[uuid.UUID]int{f.short.ID: 0}
	res = Aggregate(f.quiz, f.questions, a)
	assert.Equal(t, 5, res.Score)
	assert.Equal(t, 50, res.Percentage)
	assert.False(t, res.Passed)
}

func TestAggregate_ZeroQuestions(t *testing.T) {
	for _, passing := range []int{0, 1, 70} {
		qz := quiz.Quiz{ID: uuid.New(), PassingScore: passing}
		res := Aggregate(qz, nil, quiz.Attempt{})
		assert.Equal(t, 0, res.Percentage)
		assert.Equal(t, 0, res.TotalPossible)
		assert.Equal(t, 0 >= passing, res.Passed, "passing_score %d", passing)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	f := newFixture()
	a := quiz.Attempt{
		Answers:        map[uuid.UUID]string{f.mc.ID: "A", f.short.ID: "Rome"},
		QuestionScores: map[uuid.UUID]int{f.mc.ID: 3},
	}
	first := Aggregate(f.quiz, f.questions, a)
	second := Aggregate(f.quiz, f.questions, a)
	assert.Equal(t, first, second)
	assert.Equal(t, 8, first.Score)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	f := newFixture()
	a := quiz.Attempt{Answers: map[uuid.UUID]string{f.mc.ID: "B"}}
	reversed := []quiz.Question{f.short, f.mc}
	assert.Equal(t, Aggregate(f.quiz, f.questions, a), Aggregate(f.quiz, reversed, a))
}

func TestAggregate_IgnoresQuestionsOfOtherQuizzes(t *testing.T) {
	f := newFixture()
	stray := quiz.Question{ID: uuid.New(), QuizID: uuid.New(), Points: 100, Payload: quiz.TrueFalse{CorrectAnswer: "true"}}
	a := quiz.Attempt{Answers: map[uuid.UUID]string{f.mc.ID: "B", stray.ID: "true"}}

	res := Aggregate(f.quiz, append(f.questions, stray), a)
	assert.Equal(t, 5, res.Score)
	assert.Equal(t, 10, res.TotalPossible)
}

func TestAwarded_OverrideWins(t *testing.T) {
	f := newFixture()
	a := quiz.Attempt{
		Answers:        map[uuid.UUID]string{f.mc.ID: "B"},
		QuestionScores: map[uuid.UUID]int{f.mc.ID: 2},
	}
	assert.Equal(t, 2, Awarded(f.mc, a))

	// an override of zero for a correct answer still wins
	a.QuestionScores[f.mc.ID] = 0
	assert.Equal(t, 0, Awarded(f.mc, a))

	// an override above auto-score for a wrong answer wins too
	a.Answers[f.short.ID] = "Milan"
	a.QuestionScores[f.short.ID] = 4
	assert.Equal(t, 4, Awarded(f.short, a))
}

func TestAwarded_ClampsStoredOutOfRangeOverride(t *testing.T) {
	f := newFixture()
	a := quiz.Attempt{QuestionScores: map[uuid.UUID]int{f.mc.ID: 105, f.short.ID: -5}}
	assert.Equal(t, 5, Awarded(f.mc, a))
	assert.Equal(t, 0, Awarded(f.short, a))
}

func TestAwarded_LongAnswerNeedsOverride(t *testing.T) {
	essay := quiz.Question{ID: uuid.New(), Points: 10, Payload: quiz.LongAnswer{}}
	a := quiz.Attempt{Answers: map[uuid.UUID]string{essay.ID: "an essay"}}
	assert.Equal(t, 0, Awarded(essay, a))

	a.QuestionScores = map[uuid.UUID]int{essay.ID: 7}
	assert.Equal(t, 7, Awarded(essay, a))
}

func TestPercentage_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		score, total, want int
	}{
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{1, 200, 1},
		{1, 201, 0},
		{5, 10, 50},
		{10, 10, 100},
		{7, 0, 0},
		{0, 0, 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Percentage(tc.score, tc.total), "%d/%d", tc.score, tc.total)
	}
}

func TestPassed_BoundaryIsInclusive(t *testing.T) {
	qz := quiz.Quiz{ID: uuid.New(), PassingScore: 50}
	q := quiz.Question{ID: uuid.New(), QuizID: qz.ID, Points: 2, Payload: quiz.LongAnswer{}}
	a := quiz.Attempt{QuestionScores: map[uuid.UUID]int{q.ID: 1}}
	assert.True(t, Aggregate(qz, []quiz.Question{q}, a).Passed)
}

func TestBreakdown(t *testing.T) {
	f := newFixture()
	a := quiz.Attempt{
		Answers:          map[uuid.UUID]string{f.mc.ID: "B", f.short.ID: "rome"},
		QuestionScores:   map[uuid.UUID]int{f.short.ID: 0},
		QuestionFeedback: map[uuid.UUID]string{f.short.ID: "Ambiguous spelling"},
	}

	rows := Breakdown(f.quiz, f.questions, a)
	require.Len(t, rows, 2)

	assert.Equal(t, SourceAuto, rows[0].Source)
	assert.Equal(t, 5, rows[0].AutoScore)
	assert.Equal(t, 5, rows[0].Awarded)

	assert.Equal(t, SourceOverride, rows[1].Source)
	assert.Equal(t, 5, rows[1].AutoScore)
	assert.Equal(t, 0, rows[1].Awarded)
	assert.Equal(t, "Ambiguous spelling", rows[1].Feedback)
}

func TestNeedsManual(t *testing.T) {
	f := newFixture()
	essay := quiz.Question{ID: uuid.New(), QuizID: f.quiz.ID, Points: 10, Payload: quiz.LongAnswer{}}
	questions := append(f.questions, essay)

	assert.False(t, NeedsManual(f.quiz, f.questions, quiz.Attempt{}))
	assert.True(t, NeedsManual(f.quiz, questions, quiz.Attempt{}))
	assert.False(t, NeedsManual(f.quiz, questions, quiz.Attempt{QuestionScores: map[uuid.UUID]int{essay.ID: 0}}))
}
