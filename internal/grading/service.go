package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgportal/internal/quiz"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrStaleReview is returned by Store.SaveGrading when CheckStale is set
	// and the attempt was graded by someone else after the session opened.
	ErrStaleReview = errors.New("attempt was re-graded after review opened")
)

var tracer = otel.Tracer("orgportal/grading")

type AttemptFilter struct {
	QuizID      uuid.UUID
	UserID      string
	PendingOnly bool
}

// GradingUpdate is everything one commit writes, applied as a single row
// update.
type GradingUpdate struct {
	AttemptID        uuid.UUID
	Score            int
	Percentage       int
	Passed           bool
	IsGraded         bool
	GradedBy         *string
	GradedAt         *time.Time
	QuestionScores   map[uuid.UUID]int
	QuestionFeedback map[uuid.UUID]string
	Feedback         *string

	// CheckStale makes the write conditional on graded_at still equal to
	// ExpectGradedAt (both nil counts as equal).
	CheckStale     bool
	ExpectGradedAt *time.Time
}

type Store interface {
	GetQuiz(ctx context.Context, id uuid.UUID) (quiz.Quiz, error)
	ListQuestions(ctx context.Context, quizID uuid.UUID) ([]quiz.Question, error)
	CreateAttempt(ctx context.Context, a quiz.Attempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (quiz.Attempt, error)
	ListAttempts(ctx context.Context, f AttemptFilter) ([]quiz.Attempt, error)
	SaveGrading(ctx context.Context, u GradingUpdate) error
}

// Recorder receives lifecycle events for metrics.
type Recorder interface {
	AttemptSubmitted()
	ReviewOpened()
	ReviewCommitted(passed bool)
	ReviewCancelled()
}

type nopRecorder struct{}

func (nopRecorder) AttemptSubmitted()    {}
func (nopRecorder) ReviewOpened()        {}
func (nopRecorder) ReviewCommitted(bool) {}
func (nopRecorder) ReviewCancelled()     {}

type Config struct {
	SessionTTL         time.Duration
	RejectStaleCommits bool
	Logger             *zap.Logger
	Metrics            Recorder
	Now                func() time.Time
}

type Service struct {
	store       Store
	sessions    *SessionRegistry
	rejectStale bool
	log         *zap.Logger
	metrics     Recorder
	now         func() time.Time
}

func NewService(store Store, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:       store,
		sessions:    NewSessionRegistry(cfg.SessionTTL, cfg.Now),
		rejectStale: cfg.RejectStaleCommits,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
}

// OpenSessions reports how many review sessions are live.
func (s *Service) OpenSessions() int { return s.sessions.Len() }

// AttemptView is an attempt with its grading table.
type AttemptView struct {
	quiz.Attempt
	TotalPossible int              `json:"total_possible"`
	NeedsManual   bool             `json:"needs_manual"`
	Questions     []QuestionResult `json:"questions"`
}

func buildView(qz quiz.Quiz, questions []quiz.Question, a quiz.Attempt) AttemptView {
	return AttemptView{
		Attempt:       a,
		TotalPossible: Aggregate(qz, questions, a).TotalPossible,
		NeedsManual:   NeedsManual(qz, questions, a),
		Questions:     Breakdown(qz, questions, a),
	}
}

type SubmitInput struct {
	QuizID      uuid.UUID
	UserID      string
	Answers     map[uuid.UUID]string
	StartedAt   time.Time
	CompletedAt time.Time
}

// SubmitAttempt records a learner's answers and scores them with the
// Auto-Scorer alone. The attempt starts ungraded.
func (s *Service) SubmitAttempt(ctx context.Context, in SubmitInput) (AttemptView, error) {
	ctx, span := tracer.Start(ctx, "grading.SubmitAttempt", trace.WithAttributes(
		attribute.String("quiz.id", in.QuizID.String()),
	))
	defer span.End()

	if strings.TrimSpace(in.UserID) == "" {
		return AttemptView{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	qz, err := s.store.GetQuiz(ctx, in.QuizID)
	if err != nil {
		return AttemptView{}, err
	}
	questions, err := s.store.ListQuestions(ctx, in.QuizID)
	if err != nil {
		return AttemptView{}, err
	}

	known := make(map[uuid.UUID]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}
	answers := make(map[uuid.UUID]string, len(in.Answers))
	for qid, v := range in.Answers {
		if _, ok := known[qid]; !ok {
			return AttemptView{}, fmt.Errorf("%w: %s", quiz.ErrQuestionNotInQuiz, qid)
		}
		answers[qid] = v
	}

	completed := in.CompletedAt
	if completed.IsZero() {
		completed = s.now()
	}
	started := in.StartedAt
	if started.IsZero() {
		started = completed
	}
	if completed.Before(started) {
		return AttemptView{}, fmt.Errorf("%w: completed_at is before started_at", ErrInvalidInput)
	}

	a := quiz.Attempt{
		ID:               uuid.New(),
		QuizID:           qz.ID,
		UserID:           in.UserID,
		Answers:          answers,
		StartedAt:        started.UTC().Truncate(time.Microsecond),
		CompletedAt:      completed.UTC().Truncate(time.Microsecond),
		TimeTaken:        int(completed.Sub(started) / time.Second),
		QuestionScores:   map[uuid.UUID]int{},
		QuestionFeedback: map[uuid.UUID]string{},
	}
	res := Aggregate(qz, questions, a)
	a.Score, a.Percentage, a.Passed = res.Score, res.Percentage, res.Passed

	if err := s.store.CreateAttempt(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create attempt")
		return AttemptView{}, err
	}
	s.metrics.AttemptSubmitted()
	s.log.Info("attempt submitted",
		zap.String("attempt_id", a.ID.String()),
		zap.String("quiz_id", qz.ID.String()),
		zap.String("user_id", a.UserID),
		zap.Int("score", a.Score),
		zap.Int("percentage", a.Percentage),
	)
	return buildView(qz, questions, a), nil
}

func (s *Service) GetAttempt(ctx context.Context, id uuid.UUID) (AttemptView, error) {
	a, err := s.store.GetAttempt(ctx, id)
	if err != nil {
		return AttemptView{}, err
	}
	qz, questions, err := s.loadQuiz(ctx, a.QuizID)
	if err != nil {
		return AttemptView{}, err
	}
	return buildView(qz, questions, a), nil
}

func (s *Service) ListAttempts(ctx context.Context, f AttemptFilter) ([]AttemptView, error) {
	qz, questions, err := s.loadQuiz(ctx, f.QuizID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, buildView(qz, questions, a))
	}
	return out, nil
}

func (s *Service) loadQuiz(ctx context.Context, quizID uuid.UUID) (quiz.Quiz, []quiz.Question, error) {
	qz, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return quiz.Quiz{}, nil, err
	}
	questions, err := s.store.ListQuestions(ctx, quizID)
	if err != nil {
		return quiz.Quiz{}, nil, err
	}
	return qz, questions, nil
}

// OpenReview starts a review session for an attempt. Several sessions may be
// open on the same attempt at once.
func (s *Service) OpenReview(ctx context.Context, attemptID uuid.UUID, reviewer string) (ReviewView, error) {
	if strings.TrimSpace(reviewer) == "" {
		return ReviewView{}, fmt.Errorf("%w: reviewer is required", ErrInvalidInput)
	}
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return ReviewView{}, err
	}
	qz, questions, err := s.loadQuiz(ctx, a.QuizID)
	if err != nil {
		return ReviewView{}, err
	}

	sess := newReviewSession(reviewer, qz, questions, a, s.now())
	s.sessions.Put(sess)
	s.metrics.ReviewOpened()
	s.log.Info("review opened",
		zap.String("session_id", sess.ID.String()),
		zap.String("attempt_id", a.ID.String()),
		zap.String("reviewer", reviewer),
	)
	return sess.View(), nil
}

func (s *Service) GetReview(_ context.Context, sessionID uuid.UUID) (ReviewView, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return ReviewView{}, err
	}
	return sess.View(), nil
}

func (s *Service) SetScore(_ context.Context, sessionID, questionID uuid.UUID, points int) (ReviewView, error) {
	return s.edit(sessionID, func(r *ReviewSession) error {
		_, err := r.SetScore(questionID, points)
		return err
	})
}

func (s *Service) ClearScore(_ context.Context, sessionID, questionID uuid.UUID) (ReviewView, error) {
	return s.edit(sessionID, func(r *ReviewSession) error {
		return r.ClearScore(questionID)
	})
}

func (s *Service) SetQuestionFeedback(_ context.Context, sessionID, questionID uuid.UUID, text string) (ReviewView, error) {
	return s.edit(sessionID, func(r *ReviewSession) error {
		return r.SetQuestionFeedback(questionID, text)
	})
}

func (s *Service) SetFeedback(_ context.Context, sessionID uuid.UUID, text string) (ReviewView, error) {
	return s.edit(sessionID, func(r *ReviewSession) error {
		r.SetFeedback(text)
		return nil
	})
}

func (s *Service) edit(sessionID uuid.UUID, fn func(*ReviewSession) error) (ReviewView, error) {
	sess, err := s.sessions.Update(sessionID, fn)
	if err != nil {
		return ReviewView{}, err
	}
	return sess.View(), nil
}

// CommitReview recomputes the aggregate from the session's overrides and
// persists overrides, feedback, aggregate and audit stamps in one write.
// The committing administrator is recorded as graded_by. On failure the
// session stays open so the edits can be retried.
func (s *Service) CommitReview(ctx context.Context, sessionID uuid.UUID, reviewer string) (AttemptView, error) {
	ctx, span := tracer.Start(ctx, "grading.CommitReview", trace.WithAttributes(
		attribute.String("review.session_id", sessionID.String()),
	))
	defer span.End()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return AttemptView{}, err
	}
	if strings.TrimSpace(reviewer) == "" {
		reviewer = sess.Reviewer
	}
	span.SetAttributes(attribute.String("attempt.id", sess.AttemptID.String()))

	current, err := s.store.GetAttempt(ctx, sess.AttemptID)
	if err != nil {
		return AttemptView{}, err
	}
	qz, questions, err := s.loadQuiz(ctx, current.QuizID)
	if err != nil {
		return AttemptView{}, err
	}
	if !sameTime(current.GradedAt, sess.BaseGradedAt) {
		s.log.Warn("attempt re-graded since review opened",
			zap.String("session_id", sess.ID.String()),
			zap.String("attempt_id", current.ID.String()),
			zap.Bool("reject", s.rejectStale),
		)
	}

	edited := sess.Attempt()
	// Overrides for questions removed from the quiz since the session opened
	// are dropped; the rest are re-clamped against current points.
	overrides := make(map[uuid.UUID]int, len(edited.QuestionScores))
	for _, q := range questions {
		if v, ok := edited.QuestionScores[q.ID]; ok {
			overrides[q.ID] = clampPoints(v, q.Points)
		}
	}
	edited.QuestionScores = overrides
	edited.Answers = current.Answers

	res := Aggregate(qz, questions, edited)
	now := s.now().UTC().Truncate(time.Microsecond)
	gradedBy := reviewer
	update := GradingUpdate{
		AttemptID:        current.ID,
		Score:            res.Score,
		Percentage:       res.Percentage,
		Passed:           res.Passed,
		IsGraded:         true,
		GradedBy:         &gradedBy,
		GradedAt:         &now,
		QuestionScores:   overrides,
		QuestionFeedback: edited.QuestionFeedback,
		Feedback:         edited.Feedback,
		CheckStale:       s.rejectStale,
		ExpectGradedAt:   sess.BaseGradedAt,
	}
	if err := s.store.SaveGrading(ctx, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save grading")
		return AttemptView{}, err
	}
	s.sessions.Remove(sess.ID)
	s.metrics.ReviewCommitted(res.Passed)

	out := current.Clone()
	out.Score, out.Percentage, out.Passed = res.Score, res.Percentage, res.Passed
	out.IsGraded = true
	out.GradedBy = &gradedBy
	out.GradedAt = &now
	out.QuestionScores = overrides
	out.QuestionFeedback = edited.QuestionFeedback
	out.Feedback = edited.Feedback

	s.log.Info("review committed",
		zap.String("session_id", sess.ID.String()),
		zap.String("attempt_id", out.ID.String()),
		zap.String("graded_by", gradedBy),
		zap.Int("score", out.Score),
		zap.Int("percentage", out.Percentage),
		zap.Bool("passed", out.Passed),
	)
	return buildView(qz, questions, out), nil
}

// CancelReview discards a session. Cancelling an unknown or expired session
// is not an error.
func (s *Service) CancelReview(_ context.Context, sessionID uuid.UUID) {
	if s.sessions.Remove(sessionID) {
		s.metrics.ReviewCancelled()
		s.log.Info("review cancelled", zap.String("session_id", sessionID.String()))
	}
}

type ScoreEdit struct {
	QuestionID uuid.UUID
	Points     *int
	// Clear drops the override; Points is ignored.
	Clear    bool
	Feedback *string
}

type GradeInput struct {
	AttemptID uuid.UUID
	Reviewer  string
	Scores    []ScoreEdit
	Feedback  *string
}

// GradeAttempt opens a session, applies the edits and commits. Any failing
// edit cancels the session.
func (s *Service) GradeAttempt(ctx context.Context, in GradeInput) (AttemptView, error) {
	view, err := s.OpenReview(ctx, in.AttemptID, in.Reviewer)
	if err != nil {
		return AttemptView{}, err
	}
	_, err = s.sessions.Update(view.SessionID, func(r *ReviewSession) error {
		for _, e := range in.Scores {
			switch {
			case e.Clear:
				if err := r.ClearScore(e.QuestionID); err != nil {
					return err
				}
			case e.Points != nil:
				if _, err := r.SetScore(e.QuestionID, *e.Points); err != nil {
					return err
				}
			}
			if e.Feedback != nil {
				if err := r.SetQuestionFeedback(e.QuestionID, *e.Feedback); err != nil {
					return err
				}
			}
		}
		if in.Feedback != nil {
			r.SetFeedback(*in.Feedback)
		}
		return nil
	})
	if err != nil {
		s.CancelReview(ctx, view.SessionID)
		return AttemptView{}, err
	}
	out, err := s.CommitReview(ctx, view.SessionID, in.Reviewer)
	if err != nil {
		s.CancelReview(ctx, view.SessionID)
		return AttemptView{}, err
	}
	return out, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
