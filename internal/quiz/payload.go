package quiz

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
	TypeShortAnswer    QuestionType = "short_answer"
	TypeLongAnswer     QuestionType = "long_answer"
)

func (t QuestionType) Known() bool {
	switch t {
	case TypeMultipleChoice, TypeTrueFalse, TypeShortAnswer, TypeLongAnswer:
		return true
	}
	return false
}

// Payload is the closed set of per-type question bodies. The unexported
// method seals the interface: every variant must say how it matches an
// answer, so a new question type cannot be added without a scoring rule.
type Payload interface {
	Type() QuestionType
	matches(answer string) bool
}

type Option struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

type MultipleChoice struct {
	Options []Option
}

type TrueFalse struct {
	CorrectAnswer string
}

type ShortAnswer struct {
	CorrectAnswer string
}

// LongAnswer has no ground truth. Guidelines is shown to graders only.
type LongAnswer struct {
	Guidelines string
}

// Unknown carries a record whose question_type is outside the taxonomy.
type Unknown struct {
	Name          string
	CorrectAnswer string
}

func (MultipleChoice) Type() QuestionType { return TypeMultipleChoice }
func (TrueFalse) Type() QuestionType      { return TypeTrueFalse }
func (ShortAnswer) Type() QuestionType    { return TypeShortAnswer }
func (LongAnswer) Type() QuestionType     { return TypeLongAnswer }
func (u Unknown) Type() QuestionType      { return QuestionType(u.Name) }

// CorrectOption returns the first option flagged correct.
func (p MultipleChoice) CorrectOption() (Option, bool) {
	for _, o := range p.Options {
		if o.Correct {
			return o, true
		}
	}
	return Option{}, false
}

func (p MultipleChoice) matches(answer string) bool {
	correct, ok := p.CorrectOption()
	if !ok {
		return false
	}
	return answer == correct.Text
}

func (p TrueFalse) matches(answer string) bool {
	return p.CorrectAnswer != "" && answer == p.CorrectAnswer
}

func (p ShortAnswer) matches(answer string) bool {
	got := normalizeShort(answer)
	return got != "" && got == normalizeShort(p.CorrectAnswer)
}

func (LongAnswer) matches(string) bool { return false }
func (Unknown) matches(string) bool    { return false }

func normalizeShort(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// BuildPayload assembles the variant for a stored record. Unknown types are
// kept rather than rejected so that old rows still load.
func BuildPayload(questionType string, options []Option, correctAnswer *string) Payload {
	answer := ""
	if correctAnswer != nil {
		answer = *correctAnswer
	}
	switch QuestionType(strings.TrimSpace(questionType)) {
	case TypeMultipleChoice:
		return MultipleChoice{Options: append([]Option(nil), options...)}
	case TypeTrueFalse:
		return TrueFalse{CorrectAnswer: answer}
	case TypeShortAnswer:
		return ShortAnswer{CorrectAnswer: answer}
	case TypeLongAnswer:
		return LongAnswer{Guidelines: answer}
	default:
		return Unknown{Name: questionType, CorrectAnswer: answer}
	}
}

// PayloadFields is the inverse of BuildPayload.
func PayloadFields(p Payload) (options []Option, correctAnswer *string) {
	str := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	switch v := p.(type) {
	case MultipleChoice:
		return append([]Option(nil), v.Options...), nil
	case TrueFalse:
		return nil, str(v.CorrectAnswer)
	case ShortAnswer:
		return nil, str(v.CorrectAnswer)
	case LongAnswer:
		return nil, str(v.Guidelines)
	case Unknown:
		return nil, str(v.CorrectAnswer)
	}
	return nil, nil
}

type questionRecord struct {
	ID            uuid.UUID `json:"id"`
	QuizID        uuid.UUID `json:"quiz_id"`
	QuestionText  string    `json:"question_text"`
	QuestionType  string    `json:"question_type"`
	Points        int       `json:"points"`
	OrderIndex    int       `json:"order_index"`
	Options       []Option  `json:"options,omitempty"`
	CorrectAnswer *string   `json:"correct_answer,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	rec := questionRecord{
		ID:           q.ID,
		QuizID:       q.QuizID,
		QuestionText: q.Text,
		QuestionType: string(q.Type()),
		Points:       q.Points,
		OrderIndex:   q.OrderIndex,
	}
	rec.Options, rec.CorrectAnswer = PayloadFields(q.Payload)
	return json.Marshal(rec)
}

func (q *Question) UnmarshalJSON(b []byte) error {
	var rec questionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("decode question record: %w", err)
	}
	*q = Question{
		ID:         rec.ID,
		QuizID:     rec.QuizID,
		Text:       rec.QuestionText,
		Points:     rec.Points,
		OrderIndex: rec.OrderIndex,
		Payload:    BuildPayload(rec.QuestionType, rec.Options, rec.CorrectAnswer),
	}
	return nil
}
