package question

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"orgportal/internal/quiz"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidDirection = errors.New("direction must be up or down")
	ErrOrderIndexTaken  = errors.New("order_index already used in quiz")
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(v string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(v))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, v)
}

// PickFunc chooses which two questions of a quiz swap order_index. It gets
// the quiz's questions sorted by order_index and reports ok=false for a
// no-op.
type PickFunc func(ordered []quiz.Question) (a, b uuid.UUID, ok bool)

type Store interface {
	CreateQuiz(ctx context.Context, qz quiz.Quiz) error
	GetQuiz(ctx context.Context, id uuid.UUID) (quiz.Quiz, error)
	ListQuizzes(ctx context.Context) ([]quiz.Quiz, error)

	ListQuestions(ctx context.Context, quizID uuid.UUID) ([]quiz.Question, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (quiz.Question, error)
	// InsertQuestion stores q. With appendAtEnd the store assigns
	// max(order_index)+1 of the quiz under the same lock as the insert.
	InsertQuestion(ctx context.Context, q quiz.Question, appendAtEnd bool) (quiz.Question, error)
	// UpdateQuestion rewrites text, points and payload. quiz_id and
	// order_index are never touched.
	UpdateQuestion(ctx context.Context, q quiz.Question) error
	DeleteQuestion(ctx context.Context, id uuid.UUID) error
	// SwapOrder locks the quiz's questions, calls pick and swaps the two
	// chosen order_index values as one atomic unit.
	SwapOrder(ctx context.Context, quizID uuid.UUID, pick PickFunc) (bool, error)
}

var tracer = otel.Tracer("orgportal/question")

type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

type CreateQuizInput struct {
	Title        string
	PassingScore int
	TimeLimit    *int
}

func (s *Service) CreateQuiz(ctx context.Context, in CreateQuizInput) (quiz.Quiz, error) {
	qz := quiz.Quiz{
		ID:           uuid.New(),
		Title:        strings.TrimSpace(in.Title),
		PassingScore: in.PassingScore,
		TimeLimit:    in.TimeLimit,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := quiz.ValidateQuiz(qz); err != nil {
		return quiz.Quiz{}, err
	}
	if err := s.store.CreateQuiz(ctx, qz); err != nil {
		return quiz.Quiz{}, err
	}
	s.log.Info("quiz created", zap.String("quiz_id", qz.ID.String()), zap.String("title", qz.Title))
	return qz, nil
}

func (s *Service) GetQuiz(ctx context.Context, id uuid.UUID) (quiz.Quiz, error) {
	return s.store.GetQuiz(ctx, id)
}

func (s *Service) ListQuizzes(ctx context.Context) ([]quiz.Quiz, error) {
	return s.store.ListQuizzes(ctx)
}

// ListQuestions returns the quiz's questions in display order.
func (s *Service) ListQuestions(ctx context.Context, quizID uuid.UUID) ([]quiz.Question, error) {
	if _, err := s.store.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	items, err := s.store.ListQuestions(ctx, quizID)
	if err != nil {
		return nil, err
	}
	SortByOrder(items)
	return items, nil
}

func (s *Service) GetQuestion(ctx context.Context, id uuid.UUID) (quiz.Question, error) {
	return s.store.GetQuestion(ctx, id)
}

type AddQuestionInput struct {
	QuizID  uuid.UUID
	Text    string
	Points  int
	Payload quiz.Payload
	// OrderIndex nil appends after the current last question.
	OrderIndex *int
}

func (s *Service) AddQuestion(ctx context.Context, in AddQuestionInput) (quiz.Question, error) {
	q := quiz.Question{
		ID:      uuid.New(),
		QuizID:  in.QuizID,
		Text:    strings.TrimSpace(in.Text),
		Points:  in.Points,
		Payload: in.Payload,
	}
	if err := quiz.ValidateQuestion(q); err != nil {
		return quiz.Question{}, err
	}
	if in.OrderIndex != nil {
		if *in.OrderIndex < 0 {
			return quiz.Question{}, fmt.Errorf("%w: order_index must not be negative", ErrInvalidInput)
		}
		q.OrderIndex = *in.OrderIndex
	}
	if _, err := s.store.GetQuiz(ctx, in.QuizID); err != nil {
		return quiz.Question{}, err
	}

	out, err := s.store.InsertQuestion(ctx, q, in.OrderIndex == nil)
	if err != nil {
		return quiz.Question{}, err
	}
	s.log.Info("question added",
		zap.String("quiz_id", out.QuizID.String()),
		zap.String("question_id", out.ID.String()),
		zap.String("question_type", string(out.Type())),
		zap.Int("order_index", out.OrderIndex),
	)
	return out, nil
}

type UpdateQuestionInput struct {
	ID      uuid.UUID
	Text    string
	Points  int
	Payload quiz.Payload
}

// UpdateQuestion edits a question in place. Existing attempts are rescored
// against the new definition the next time they are aggregated; persisted
// overrides stay as they are.
func (s *Service) UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (quiz.Question, error) {
	current, err := s.store.GetQuestion(ctx, in.ID)
	if err != nil {
		return quiz.Question{}, err
	}
	next := current
	next.Text = strings.TrimSpace(in.Text)
	next.Points = in.Points
	next.Payload = in.Payload
	if err := quiz.ValidateQuestion(next); err != nil {
		return quiz.Question{}, err
	}
	if err := s.store.UpdateQuestion(ctx, next); err != nil {
		return quiz.Question{}, err
	}
	return next, nil
}

// DeleteQuestion removes one question. Survivors keep their order_index.
func (s *Service) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteQuestion(ctx, id); err != nil {
		return err
	}
	s.log.Info("question deleted", zap.String("question_id", id.String()))
	return nil
}

// Reorder swaps the question with its neighbour in the given direction. At
// the first or last position nothing changes. The returned list is the quiz
// in its new order.
func (s *Service) Reorder(ctx context.Context, questionID uuid.UUID, dir Direction) (bool, []quiz.Question, error) {
	ctx, span := tracer.Start(ctx, "question.Reorder")
	defer span.End()
	span.SetAttributes(
		attribute.String("question.id", questionID.String()),
		attribute.String("direction", string(dir)),
	)

	if dir != Up && dir != Down {
		return false, nil, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	target, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return false, nil, err
	}

	moved, err := s.store.SwapOrder(ctx, target.QuizID, func(ordered []quiz.Question) (uuid.UUID, uuid.UUID, bool) {
		n, ok := Neighbor(ordered, questionID, dir)
		if !ok {
			return uuid.Nil, uuid.Nil, false
		}
		return questionID, n.ID, true
	})
	if err != nil {
		return false, nil, fmt.Errorf("reorder question: %w", err)
	}
	span.SetAttributes(attribute.Bool("moved", moved))

	items, err := s.ListQuestions(ctx, target.QuizID)
	if err != nil {
		return moved, nil, err
	}
	if moved {
		s.log.Info("question moved",
			zap.String("quiz_id", target.QuizID.String()),
			zap.String("question_id", questionID.String()),
			zap.String("direction", string(dir)),
		)
	}
	return moved, items, nil
}

// Neighbor finds the question adjacent to id in relative order. Gaps in
// order_index are skipped over, so the neighbour of 3 in {1, 3, 8} going
// down is 8.
func Neighbor(ordered []quiz.Question, id uuid.UUID, dir Direction) (quiz.Question, bool) {
	items := append([]quiz.Question(nil), ordered...)
	SortByOrder(items)
	for i, q := range items {
		if q.ID != id {
			continue
		}
		switch dir {
		case Up:
			if i > 0 {
				return items[i-1], true
			}
		case Down:
			if i+1 < len(items) {
				return items[i+1], true
			}
		}
		return quiz.Question{}, false
	}
	return quiz.Question{}, false
}

// SortByOrder sorts by order_index, breaking ties by id so output is stable
// even over rows that violate uniqueness.
func SortByOrder(items []quiz.Question) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].OrderIndex != items[j].OrderIndex {
			return items[i].OrderIndex < items[j].OrderIndex
		}
		return items[i].ID.String() < items[j].ID.String()
	})
}
