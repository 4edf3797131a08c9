package quiz

import "errors"

var (
	ErrQuizNotFound      = errors.New("quiz not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrQuestionNotInQuiz = errors.New("question not in quiz")
	ErrInvalidQuiz       = errors.New("invalid quiz")
	ErrInvalidQuestion   = errors.New("invalid question")
)
