package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orgportal/internal/grading"
	"orgportal/internal/question"
	"orgportal/internal/quiz"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Postgres struct {
	db *sql.DB
}

var (
	_ question.Store = (*Postgres)(nil)
	_ grading.Store  = (*Postgres)(nil)
)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) CreateQuiz(ctx context.Context, qz quiz.Quiz) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO quizzes (id, title, passing_score, time_limit, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, qz.ID, qz.Title, qz.PassingScore, nullIntPtr(qz.TimeLimit), qz.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

func (p *Postgres) GetQuiz(ctx context.Context, id uuid.UUID) (quiz.Quiz, error) {
	qz, err := scanQuiz(p.db.QueryRowContext(ctx, `
		SELECT id, title, passing_score, time_limit, created_at
		FROM quizzes
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Quiz{}, quiz.ErrQuizNotFound
		}
		return quiz.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return qz, nil
}

func (p *Postgres) ListQuizzes(ctx context.Context) ([]quiz.Quiz, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, passing_score, time_limit, created_at
		FROM quizzes
		ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query quizzes: %w", err)
	}
	defer rows.Close()

	out := make([]quiz.Quiz, 0)
	for rows.Next() {
		qz, err := scanQuiz(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, qz)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quizzes: %w", err)
	}
	return out, nil
}

func scanQuiz(s scanner) (quiz.Quiz, error) {
	var (
		qz        quiz.Quiz
		timeLimit sql.NullInt64
	)
	if err := s.Scan(&qz.ID, &qz.Title, &qz.PassingScore, &timeLimit, &qz.CreatedAt); err != nil {
		return quiz.Quiz{}, err
	}
	if timeLimit.Valid {
		v := int(timeLimit.Int64)
		qz.TimeLimit = &v
	}
	qz.CreatedAt = qz.CreatedAt.UTC()
	return qz, nil
}

func (p *Postgres) ListQuestions(ctx context.Context, quizID uuid.UUID) ([]quiz.Question, error) {
	return listQuestions(ctx, p.db, quizID, false)
}

func listQuestions(ctx context.Context, q queryable, quizID uuid.UUID, forUpdate bool) ([]quiz.Question, error) {
	query := `
		SELECT id, quiz_id, question_text, question_type, points, order_index, options, correct_answer
		FROM quiz_questions
		WHERE quiz_id = $1
		ORDER BY order_index ASC, id ASC
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.QueryContext(ctx, query, quizID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]quiz.Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetQuestion(ctx context.Context, id uuid.UUID) (quiz.Question, error) {
	item, err := scanQuestion(p.db.QueryRowContext(ctx, `
		SELECT id, quiz_id, question_text, question_type, points, order_index, options, correct_answer
		FROM quiz_questions
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Question{}, quiz.ErrQuestionNotFound
		}
		return quiz.Question{}, err
	}
	return item, nil
}

func scanQuestion(s scanner) (quiz.Question, error) {
	var (
		item          quiz.Question
		questionType  string
		optionsRaw    []byte
		correctAnswer sql.NullString
	)
	if err := s.Scan(&item.ID, &item.QuizID, &item.Text, &questionType, &item.Points, &item.OrderIndex, &optionsRaw, &correctAnswer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Question{}, err
		}
		return quiz.Question{}, fmt.Errorf("scan question: %w", err)
	}

	var options []quiz.Option
	if len(optionsRaw) > 0 {
		if err := json.Unmarshal(optionsRaw, &options); err != nil {
			return quiz.Question{}, fmt.Errorf("decode question options: %w", err)
		}
	}
	var answer *string
	if correctAnswer.Valid {
		answer = &correctAnswer.String
	}
	item.Payload = quiz.BuildPayload(questionType, options, answer)
	return item, nil
}

func (p *Postgres) InsertQuestion(ctx context.Context, q quiz.Question, appendAtEnd bool) (quiz.Question, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return quiz.Question{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockQuiz(ctx, tx, q.QuizID); err != nil {
		return quiz.Question{}, err
	}
	if appendAtEnd {
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(order_index), -1) + 1
			FROM quiz_questions
			WHERE quiz_id = $1
		`, q.QuizID).Scan(&q.OrderIndex); err != nil {
			return quiz.Question{}, fmt.Errorf("next order_index: %w", err)
		}
	}

	options, answer := quiz.PayloadFields(q.Payload)
	optionsJSON, err := marshalNullableJSON(options)
	if err != nil {
		return quiz.Question{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quiz_questions (id, quiz_id, question_text, question_type, points, order_index, options, correct_answer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, q.ID, q.QuizID, q.Text, string(q.Type()), q.Points, q.OrderIndex, optionsJSON, nullStringPtr(answer)); err != nil {
		return quiz.Question{}, translateUnique(fmt.Errorf("insert question: %w", err), q.OrderIndex)
	}
	if err := tx.Commit(); err != nil {
		return quiz.Question{}, translateUnique(fmt.Errorf("commit tx: %w", err), q.OrderIndex)
	}
	return q, nil
}

func (p *Postgres) UpdateQuestion(ctx context.Context, q quiz.Question) error {
	options, answer := quiz.PayloadFields(q.Payload)
	optionsJSON, err := marshalNullableJSON(options)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE quiz_questions
		SET question_text = $2, question_type = $3, points = $4, options = $5, correct_answer = $6
		WHERE id = $1
	`, q.ID, q.Text, string(q.Type()), q.Points, optionsJSON, nullStringPtr(answer))
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	return requireAffected(res, quiz.ErrQuestionNotFound)
}

func (p *Postgres) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM quiz_questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	return requireAffected(res, quiz.ErrQuestionNotFound)
}

// SwapOrder updates both rows in one statement inside one transaction. The
// (quiz_id, order_index) constraint is deferred, so the swap is checked only
// at commit and no reader sees a shared value.
func (p *Postgres) SwapOrder(ctx context.Context, quizID uuid.UUID, pick question.PickFunc) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockQuiz(ctx, tx, quizID); err != nil {
		return false, err
	}
	ordered, err := listQuestions(ctx, tx, quizID, true)
	if err != nil {
		return false, err
	}
	a, b, ok := pick(ordered)
	if !ok {
		return false, nil
	}

	index := make(map[uuid.UUID]int, len(ordered))
	for _, q := range ordered {
		index[q.ID] = q.OrderIndex
	}
	ia, okA := index[a]
	ib, okB := index[b]
	if !okA || !okB {
		return false, quiz.ErrQuestionNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE quiz_questions
		SET order_index = CASE WHEN id = $1 THEN $4::integer ELSE $3::integer END
		WHERE quiz_id = $5 AND id IN ($1, $2)
	`, a, b, ia, ib, quizID); err != nil {
		return false, fmt.Errorf("swap order_index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func lockQuiz(ctx context.Context, tx *sql.Tx, quizID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx, `SELECT id FROM quizzes WHERE id = $1 FOR UPDATE`, quizID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.ErrQuizNotFound
		}
		return fmt.Errorf("lock quiz: %w", err)
	}
	return nil
}

func (p *Postgres) CreateAttempt(ctx context.Context, a quiz.Attempt) error {
	answers, err := json.Marshal(nonNilMap(a.Answers))
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	scores, err := json.Marshal(nonNilMap(a.QuestionScores))
	if err != nil {
		return fmt.Errorf("encode question_scores: %w", err)
	}
	feedback, err := json.Marshal(nonNilMap(a.QuestionFeedback))
	if err != nil {
		return fmt.Errorf("encode question_feedback: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO quiz_attempts (
			id, quiz_id, user_id, answers, score, percentage, passed, time_taken,
			started_at, completed_at, is_graded, graded_by, graded_at,
			question_scores, question_feedback, feedback
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		a.ID, a.QuizID, a.UserID, answers, a.Score, a.Percentage, a.Passed, a.TimeTaken,
		a.StartedAt, a.CompletedAt, a.IsGraded, nullStringPtr(a.GradedBy), nullTimePtr(a.GradedAt),
		scores, feedback, nullStringPtr(a.Feedback),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

const attemptColumns = `
	id, quiz_id, user_id, answers, score, percentage, passed, time_taken,
	started_at, completed_at, is_graded, graded_by, graded_at,
	question_scores, question_feedback, feedback
`

func (p *Postgres) GetAttempt(ctx context.Context, id uuid.UUID) (quiz.Attempt, error) {
	a, err := scanAttempt(p.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Attempt{}, quiz.ErrAttemptNotFound
		}
		return quiz.Attempt{}, err
	}
	return a, nil
}

func (p *Postgres) ListAttempts(ctx context.Context, f grading.AttemptFilter) ([]quiz.Attempt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM quiz_attempts
		WHERE quiz_id = $1
			AND ($2::text = '' OR user_id = $2::text)
			AND (NOT $3::boolean OR NOT is_graded)
		ORDER BY completed_at ASC, id ASC
	`, f.QuizID, f.UserID, f.PendingOnly)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]quiz.Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func scanAttempt(s scanner) (quiz.Attempt, error) {
	var (
		a                            quiz.Attempt
		answers, scores, feedbackMap []byte
		gradedBy, feedback           sql.NullString
		gradedAt                     sql.NullTime
	)
	err := s.Scan(
		&a.ID, &a.QuizID, &a.UserID, &answers, &a.Score, &a.Percentage, &a.Passed, &a.TimeTaken,
		&a.StartedAt, &a.CompletedAt, &a.IsGraded, &gradedBy, &gradedAt,
		&scores, &feedbackMap, &feedback,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Attempt{}, err
		}
		return quiz.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}

	a.Answers = map[uuid.UUID]string{}
	a.QuestionScores = map[uuid.UUID]int{}
	a.QuestionFeedback = map[uuid.UUID]string{}
	if err := unmarshalJSONB(answers, &a.Answers); err != nil {
		return quiz.Attempt{}, fmt.Errorf("decode answers: %w", err)
	}
	if err := unmarshalJSONB(scores, &a.QuestionScores); err != nil {
		return quiz.Attempt{}, fmt.Errorf("decode question_scores: %w", err)
	}
	if err := unmarshalJSONB(feedbackMap, &a.QuestionFeedback); err != nil {
		return quiz.Attempt{}, fmt.Errorf("decode question_feedback: %w", err)
	}

	a.StartedAt = a.StartedAt.UTC()
	a.CompletedAt = a.CompletedAt.UTC()
	if gradedBy.Valid {
		a.GradedBy = &gradedBy.String
	}
	if gradedAt.Valid {
		t := gradedAt.Time.UTC()
		a.GradedAt = &t
	}
	if feedback.Valid {
		a.Feedback = &feedback.String
	}
	return a, nil
}

// SaveGrading writes overrides, feedback, aggregate and audit stamps in a
// single UPDATE. With CheckStale the row must still carry the graded_at the
// review started from.
func (p *Postgres) SaveGrading(ctx context.Context, u grading.GradingUpdate) error {
	scores, err := json.Marshal(nonNilMap(u.QuestionScores))
	if err != nil {
		return fmt.Errorf("encode question_scores: %w", err)
	}
	feedback, err := json.Marshal(nonNilMap(u.QuestionFeedback))
	if err != nil {
		return fmt.Errorf("encode question_feedback: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE quiz_attempts
		SET score = $2,
			percentage = $3,
			passed = $4,
			is_graded = $5,
			graded_by = $6,
			graded_at = $7,
			question_scores = $8,
			question_feedback = $9,
			feedback = $10
		WHERE id = $1
			AND (NOT $11::boolean OR graded_at IS NOT DISTINCT FROM $12::timestamptz)
	`,
		u.AttemptID, u.Score, u.Percentage, u.Passed, u.IsGraded,
		nullStringPtr(u.GradedBy), nullTimePtr(u.GradedAt),
		scores, feedback, nullStringPtr(u.Feedback),
		u.CheckStale, nullTimePtr(u.ExpectGradedAt),
	)
	if err != nil {
		return fmt.Errorf("save grading: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save grading rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM quiz_attempts WHERE id = $1)`, u.AttemptID).Scan(&exists); err != nil {
		return fmt.Errorf("check attempt: %w", err)
	}
	if exists && u.CheckStale {
		return grading.ErrStaleReview
	}
	return quiz.ErrAttemptNotFound
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func translateUnique(err error, orderIndex int) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %d", question.ErrOrderIndexTaken, orderIndex)
	}
	return err
}

func marshalNullableJSON(v []quiz.Option) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return b, nil
}

func unmarshalJSONB(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

func nullStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTimePtr(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}
