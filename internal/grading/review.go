package grading

import (
	"fmt"
	"strings"
	"time"

	"orgportal/internal/quiz"

	"github.com/google/uuid"
)

// ReviewSession is an administrator's uncommitted working copy of one
// attempt's overrides and feedback. It starts from whatever overrides are
// already persisted; questions without an override only display their
// auto-score and do not become overrides unless edited.
//
// A session is not safe for concurrent use; SessionRegistry serialises
// access.
type ReviewSession struct {
	ID        uuid.UUID
	AttemptID uuid.UUID
	Reviewer  string
	OpenedAt  time.Time

	// GradedAt of the attempt when the session was opened, used to detect
	// commits that overwrite someone else's grading.
	BaseGradedAt *time.Time

	quiz             quiz.Quiz
	questions        []quiz.Question
	answers          map[uuid.UUID]string
	scores           map[uuid.UUID]int
	questionFeedback map[uuid.UUID]string
	feedback         *string
}

func newReviewSession(reviewer string, qz quiz.Quiz, questions []quiz.Question, a quiz.Attempt, now time.Time) *ReviewSession {
	c := a.Clone()
	ordered := make([]quiz.Question, 0, len(questions))
	for _, q := range questions {
		if belongsTo(q, qz.ID) {
			ordered = append(ordered, q)
		}
	}
	return &ReviewSession{
		ID:               uuid.New(),
		AttemptID:        a.ID,
		Reviewer:         reviewer,
		OpenedAt:         now,
		BaseGradedAt:     c.GradedAt,
		quiz:             qz,
		questions:        ordered,
		answers:          c.Answers,
		scores:           c.QuestionScores,
		questionFeedback: c.QuestionFeedback,
		feedback:         c.Feedback,
	}
}

func (s *ReviewSession) question(id uuid.UUID) (quiz.Question, error) {
	for _, q := range s.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return quiz.Question{}, fmt.Errorf("%w: %s", quiz.ErrQuestionNotInQuiz, id)
}

// SetScore records an override, clamped into [0, points]. The stored value
// is returned.
func (s *ReviewSession) SetScore(questionID uuid.UUID, points int) (int, error) {
	q, err := s.question(questionID)
	if err != nil {
		return 0, err
	}
	v := clampPoints(points, q.Points)
	s.scores[questionID] = v
	return v, nil
}

// ClearScore drops an override so the question falls back to its auto-score.
func (s *ReviewSession) ClearScore(questionID uuid.UUID) error {
	if _, err := s.question(questionID); err != nil {
		return err
	}
	delete(s.scores, questionID)
	return nil
}

// SetQuestionFeedback stores a note for one question; blank text removes it.
func (s *ReviewSession) SetQuestionFeedback(questionID uuid.UUID, text string) error {
	if _, err := s.question(questionID); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		delete(s.questionFeedback, questionID)
		return nil
	}
	s.questionFeedback[questionID] = text
	return nil
}

// SetFeedback sets the overall note; blank text clears it.
func (s *ReviewSession) SetFeedback(text string) {
	if strings.TrimSpace(text) == "" {
		s.feedback = nil
		return
	}
	s.feedback = &text
}

// Attempt returns the attempt as it would look with the session's edits.
func (s *ReviewSession) Attempt() quiz.Attempt {
	return quiz.Attempt{
		ID:               s.AttemptID,
		QuizID:           s.quiz.ID,
		Answers:          s.answers,
		QuestionScores:   s.scores,
		QuestionFeedback: s.questionFeedback,
		Feedback:         s.feedback,
	}.Clone()
}

// Overrides returns a copy of the explicit overrides only.
func (s *ReviewSession) Overrides() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(s.scores))
	for k, v := range s.scores {
		out[k] = v
	}
	return out
}

func (s *ReviewSession) Quiz() quiz.Quiz { return s.quiz }

func (s *ReviewSession) Questions() []quiz.Question {
	return append([]quiz.Question(nil), s.questions...)
}

// Preview aggregates the session state without persisting anything.
func (s *ReviewSession) Preview() Result {
	return Aggregate(s.quiz, s.questions, s.Attempt())
}

func (s *ReviewSession) clone() *ReviewSession {
	c := *s
	a := s.Attempt()
	c.answers = a.Answers
	c.scores = a.QuestionScores
	c.questionFeedback = a.QuestionFeedback
	c.feedback = a.Feedback
	c.questions = s.Questions()
	if s.BaseGradedAt != nil {
		v := *s.BaseGradedAt
		c.BaseGradedAt = &v
	}
	return &c
}

// ReviewView is what an administrator sees while editing.
type ReviewView struct {
	SessionID uuid.UUID         `json:"session_id"`
	AttemptID uuid.UUID         `json:"attempt_id"`
	QuizID    uuid.UUID         `json:"quiz_id"`
	Reviewer  string            `json:"reviewer"`
	OpenedAt  time.Time         `json:"opened_at"`
	Items     []ReviewItem      `json:"items"`
	Feedback  *string           `json:"feedback"`
	Preview   Result            `json:"preview"`
	Overrides map[uuid.UUID]int `json:"overrides"`
}

type ReviewItem struct {
	QuestionResult
	QuestionText string `json:"question_text"`
	Answer       string `json:"answer"`
	Guidelines   string `json:"guidelines,omitempty"`
}

func (s *ReviewSession) View() ReviewView {
	a := s.Attempt()
	rows := Breakdown(s.quiz, s.questions, a)
	items := make([]ReviewItem, 0, len(rows))
	for i, row := range rows {
		q := s.questions[i]
		item := ReviewItem{
			QuestionResult: row,
			QuestionText:   q.Text,
			Answer:         a.Answer(q.ID),
		}
		if la, ok := q.Payload.(quiz.LongAnswer); ok {
			item.Guidelines = la.Guidelines
		}
		items = append(items, item)
	}
	return ReviewView{
		SessionID: s.ID,
		AttemptID: s.AttemptID,
		QuizID:    s.quiz.ID,
		Reviewer:  s.Reviewer,
		OpenedAt:  s.OpenedAt,
		Items:     items,
		Feedback:  a.Feedback,
		Preview:   Aggregate(s.quiz, s.questions, a),
		Overrides: s.Overrides(),
	}
}
