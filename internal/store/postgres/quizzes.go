package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/store"
)

const questionColumns = `id, quiz_id, position, prompt, choices, correct_answers, explanation, points`

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q                domain.Question
		choices, answers []byte
	)
	if err := row.Scan(&q.ID, &q.QuizID, &q.Order, &q.Prompt, &choices, &answers, &q.Explanation, &q.Points); err != nil {
		return domain.Question{}, notFound(err)
	}

	var err error
	if q.Choices, err = store.DecodeStrings(choices); err != nil {
		return domain.Question{}, err
	}
	if q.CorrectAnswers, err = store.DecodeStrings(answers); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func (r reader) QuizByID(ctx context.Context, id string) (*domain.Quiz, error) {
	const quizStmt = `
SELECT id, title, description, default_points, time_per_question, created_at
FROM quizzes WHERE id = $1;`

	var q domain.Quiz
	err := r.q.QueryRow(ctx, quizStmt, id).
		Scan(&q.ID, &q.Title, &q.Description, &q.DefaultPoints, &q.TimePerQuestion, &q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("select quiz %s: %w", id, notFound(err))
	}

	const questionsStmt = `SELECT ` + questionColumns + ` FROM quiz_questions WHERE quiz_id = $1 ORDER BY position;`

	rows, err := r.q.Query(ctx, questionsStmt, id)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}

	q.Questions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Question, error) {
		return scanQuestion(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan questions: %w", err)
	}

	return &q, nil
}

func (t *tx) InsertQuiz(ctx context.Context, q *domain.Quiz) error {
	if err := store.EnsureID(&q.ID); err != nil {
		return err
	}

	const quizStmt = `
INSERT INTO quizzes (id, title, description, default_points, time_per_question, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	if _, err := t.q.Exec(ctx, quizStmt, q.ID, q.Title, q.Description, q.DefaultPoints, q.TimePerQuestion, q.CreatedAt); err != nil {
		return fmt.Errorf("insert quiz: %w", conflict(err))
	}

	const questionStmt = `INSERT INTO quiz_questions (` + questionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	b := &pgx.Batch{}
	for i := range q.Questions {
		qq := &q.Questions[i]
		if err := store.EnsureID(&qq.ID); err != nil {
			return err
		}
		qq.QuizID = q.ID

		choices, err := store.EncodeStrings(qq.Choices)
		if err != nil {
			return err
		}
		answers, err := store.EncodeStrings(qq.CorrectAnswers)
		if err != nil {
			return err
		}
		b.Queue(questionStmt, qq.ID, qq.QuizID, qq.Order, qq.Prompt, choices, answers, qq.Explanation, qq.Points)
	}

	if err := t.sendBatch(ctx, b); err != nil {
		return fmt.Errorf("insert questions: %w", conflict(err))
	}
	return nil
}

func (t *tx) sendBatch(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	bt, ok := t.q.(pgx.Tx)
	if !ok {
		return fmt.Errorf("batch outside transaction")
	}
	return bt.SendBatch(ctx, b).Close()
}

func (t *tx) QuestionByID(ctx context.Context, id string) (*domain.Question, error) {
	const stmt = `SELECT ` + questionColumns + ` FROM quiz_questions WHERE id = $1;`

	q, err := scanQuestion(t.q.QueryRow(ctx, stmt, id))
	if err != nil {
		return nil, fmt.Errorf("select question %s: %w", id, err)
	}
	return &q, nil
}

func (t *tx) FirstQuestion(ctx context.Context, quizID string) (*domain.Question, error) {
	return t.NextQuestion(ctx, quizID, -1)
}

func (t *tx) NextQuestion(ctx context.Context, quizID string, after int) (*domain.Question, error) {
	const stmt = `
SELECT ` + questionColumns + `
FROM quiz_questions
WHERE quiz_id = $1 AND position > $2
ORDER BY position
LIMIT 1;`

	q, err := scanQuestion(t.q.QueryRow(ctx, stmt, quizID, after))
	if err != nil {
		return nil, fmt.Errorf("select question after %d: %w", after, err)
	}
	return &q, nil
}

func (t *tx) InsertStudent(ctx context.Context, s *domain.Student) error {
	if err := store.EnsureID(&s.ID); err != nil {
		return err
	}

	const stmt = `INSERT INTO students (id, student_number, name) VALUES ($1, $2, $3);`

	if _, err := t.q.Exec(ctx, stmt, s.ID, s.StudentNumber, s.Name); err != nil {
		return fmt.Errorf("insert student: %w", conflict(err))
	}
	return nil
}

func (t *tx) StudentByRef(ctx context.Context, ref string) (*domain.Student, error) {
	const stmt = `
SELECT id, student_number, name
FROM students
WHERE id = $1 OR student_number = $1
ORDER BY (id = $1) DESC
LIMIT 1;`

	var s domain.Student
	if err := t.q.QueryRow(ctx, stmt, ref).Scan(&s.ID, &s.StudentNumber, &s.Name); err != nil {
		return nil, fmt.Errorf("select student %s: %w", ref, notFound(err))
	}
	return &s, nil
}
