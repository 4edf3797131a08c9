package quiz

import (
	"time"

	"github.com/google/uuid"
)

type Quiz struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	PassingScore int       `json:"passing_score"`
	TimeLimit    *int      `json:"time_limit,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Question is one entry of a quiz's question bank. The type-dependent part
// lives in Payload; see payload.go for the variants.
type Question struct {
	ID         uuid.UUID
	QuizID     uuid.UUID
	Text       string
	Points     int
	OrderIndex int
	Payload    Payload
}

func (q Question) Type() QuestionType {
	if q.Payload == nil {
		return ""
	}
	return q.Payload.Type()
}

// Attempt is one learner's completed submission. Answers never change after
// creation; everything below TimeTaken is owned by the grading flow.
type Attempt struct {
	ID          uuid.UUID            `json:"id"`
	QuizID      uuid.UUID            `json:"quiz_id"`
	UserID      string               `json:"user_id"`
	Answers     map[uuid.UUID]string `json:"answers"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	TimeTaken   int                  `json:"time_taken"`

	Score            int                  `json:"score"`
	Percentage       int                  `json:"percentage"`
	Passed           bool                 `json:"passed"`
	IsGraded         bool                 `json:"is_graded"`
	GradedBy         *string              `json:"graded_by"`
	GradedAt         *time.Time           `json:"graded_at"`
	QuestionScores   map[uuid.UUID]int    `json:"question_scores"`
	QuestionFeedback map[uuid.UUID]string `json:"question_feedback"`
	Feedback         *string              `json:"feedback"`
}

// Answer returns the submitted answer for a question, "" when absent.
func (a Attempt) Answer(questionID uuid.UUID) string {
	if a.Answers == nil {
		return ""
	}
	return a.Answers[questionID]
}

// Override reports the administrator override for a question, if any.
func (a Attempt) Override(questionID uuid.UUID) (int, bool) {
	if a.QuestionScores == nil {
		return 0, false
	}
	v, ok := a.QuestionScores[questionID]
	return v, ok
}

// Clone returns a deep copy so callers can mutate maps freely.
func (a Attempt) Clone() Attempt {
	out := a
	out.Answers = cloneMap(a.Answers)
	out.QuestionScores = cloneMap(a.QuestionScores)
	out.QuestionFeedback = cloneMap(a.QuestionFeedback)
	if a.GradedBy != nil {
		v := *a.GradedBy
		out.GradedBy = &v
	}
	if a.GradedAt != nil {
		v := *a.GradedAt
		out.GradedAt = &v
	}
	if a.Feedback != nil {
		v := *a.Feedback
		out.Feedback = &v
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TotalPoints is the sum of question points, the denominator of percentage.
func TotalPoints(questions []Question) int {
	total := 0
	for _, q := range questions {
		if q.Points > 0 {
			total += q.Points
		}
	}
	return total
}
