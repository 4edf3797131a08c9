package grading

import (
	"orgportal/internal/quiz"

	"github.com/google/uuid"
)

// Result is the aggregate of one attempt against its quiz.
type Result struct {
	Score         int  `json:"score"`
	Percentage    int  `json:"percentage"`
	Passed        bool `json:"passed"`
	TotalPossible int  `json:"total_possible"`
}

const (
	SourceAuto     = "auto"
	SourceOverride = "override"
)

// QuestionResult is one row of the grading table.
type QuestionResult struct {
	QuestionID   uuid.UUID         `json:"question_id"`
	OrderIndex   int               `json:"order_index"`
	QuestionType quiz.QuestionType `json:"question_type"`
	Points       int               `json:"points"`
	AutoScore    int               `json:"auto_score"`
	Awarded      int               `json:"awarded"`
	Source       string            `json:"source"`
	NeedsManual  bool              `json:"needs_manual"`
	Feedback     string            `json:"feedback,omitempty"`
}

// Awarded applies override precedence: an entry in question_scores always
// wins over the auto-score, even when they differ.
func Awarded(q quiz.Question, a quiz.Attempt) int {
	if v, ok := a.Override(q.ID); ok {
		return clampPoints(v, q.Points)
	}
	return quiz.AutoScore(q, a.Answer(q.ID))
}

// Aggregate recomputes score, percentage and pass/fail from scratch. It has
// no state, so calling it on every save is safe and gives the same answer for
// the same inputs.
func Aggregate(qz quiz.Quiz, questions []quiz.Question, a quiz.Attempt) Result {
	score := 0
	total := 0
	for _, q := range questions {
		if !belongsTo(q, qz.ID) {
			continue
		}
		score += Awarded(q, a)
		if q.Points > 0 {
			total += q.Points
		}
	}

	pct := Percentage(score, total)
	return Result{
		Score:         score,
		Percentage:    pct,
		Passed:        pct >= qz.PassingScore,
		TotalPossible: total,
	}
}

// Percentage rounds score/total*100 half up. A quiz worth nothing is 0%.
func Percentage(score, total int) int {
	if total <= 0 || score <= 0 {
		return 0
	}
	if score >= total {
		return 100
	}
	return (200*score + total) / (2 * total)
}

// Breakdown lists per-question results in the order given.
func Breakdown(qz quiz.Quiz, questions []quiz.Question, a quiz.Attempt) []QuestionResult {
	out := make([]QuestionResult, 0, len(questions))
	for _, q := range questions {
		if !belongsTo(q, qz.ID) {
			continue
		}
		auto := quiz.AutoScore(q, a.Answer(q.ID))
		row := QuestionResult{
			QuestionID:   q.ID,
			OrderIndex:   q.OrderIndex,
			QuestionType: q.Type(),
			Points:       q.Points,
			AutoScore:    auto,
			Awarded:      auto,
			Source:       SourceAuto,
			NeedsManual:  quiz.NeedsManual(q),
		}
		if v, ok := a.Override(q.ID); ok {
			row.Awarded = clampPoints(v, q.Points)
			row.Source = SourceOverride
			row.NeedsManual = false
		}
		if a.QuestionFeedback != nil {
			row.Feedback = a.QuestionFeedback[q.ID]
		}
		out = append(out, row)
	}
	return out
}

// NeedsManual reports whether some question can only be scored by a human
// and has not been overridden yet.
func NeedsManual(qz quiz.Quiz, questions []quiz.Question, a quiz.Attempt) bool {
	for _, q := range questions {
		if !belongsTo(q, qz.ID) || !quiz.NeedsManual(q) {
			continue
		}
		if _, ok := a.Override(q.ID); !ok {
			return true
		}
	}
	return false
}

func clampPoints(v, max int) int {
	if max < 0 {
		max = 0
	}
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func belongsTo(q quiz.Question, quizID uuid.UUID) bool {
	return q.QuizID == uuid.Nil || quizID == uuid.Nil || q.QuizID == quizID
}
