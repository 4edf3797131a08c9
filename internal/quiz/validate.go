package quiz

import (
	"fmt"
	"strings"
)

func ValidateQuiz(q Quiz) error {
	if strings.TrimSpace(q.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidQuiz)
	}
	if q.PassingScore < 0 || q.PassingScore > 100 {
		return fmt.Errorf("%w: passing_score must be within 0..100", ErrInvalidQuiz)
	}
	if q.TimeLimit != nil && *q.TimeLimit <= 0 {
		return fmt.Errorf("%w: time_limit must be positive", ErrInvalidQuiz)
	}
	return nil
}

// ValidateQuestion checks authoring rules. Scoring never relies on it: a
// stored question that fails validation still auto-scores by the rules in
// AutoScore.
func ValidateQuestion(q Question) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question_text is required", ErrInvalidQuestion)
	}
	if q.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrInvalidQuestion)
	}

	switch p := q.Payload.(type) {
	case MultipleChoice:
		return validateOptions(p.Options)
	case TrueFalse:
		if p.CorrectAnswer != "true" && p.CorrectAnswer != "false" {
			return fmt.Errorf("%w: correct_answer must be \"true\" or \"false\"", ErrInvalidQuestion)
		}
	case ShortAnswer:
		if strings.TrimSpace(p.CorrectAnswer) == "" {
			return fmt.Errorf("%w: correct_answer is required", ErrInvalidQuestion)
		}
	case LongAnswer:
	case Unknown:
		return fmt.Errorf("%w: unsupported question_type %q", ErrInvalidQuestion, p.Name)
	default:
		return fmt.Errorf("%w: question_type is required", ErrInvalidQuestion)
	}
	return nil
}

func validateOptions(options []Option) error {
	if len(options) < 2 {
		return fmt.Errorf("%w: multiple_choice needs at least 2 options", ErrInvalidQuestion)
	}
	seen := make(map[string]struct{}, len(options))
	correct := 0
	for i, o := range options {
		if strings.TrimSpace(o.Text) == "" {
			return fmt.Errorf("%w: option %d text is empty", ErrInvalidQuestion, i+1)
		}
		if _, dup := seen[o.Text]; dup {
			return fmt.Errorf("%w: duplicate option %q", ErrInvalidQuestion, o.Text)
		}
		seen[o.Text] = struct{}{}
		if o.Correct {
			correct++
		}
	}
	if correct != 1 {
		return fmt.Errorf("%w: exactly one option must be correct, got %d", ErrInvalidQuestion, correct)
	}
	return nil
}
