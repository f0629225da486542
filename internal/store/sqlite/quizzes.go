package sqlite

import (
	"context"
	"fmt"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/store"
)

const questionColumns = `id, quiz_id, position, prompt, choices, correct_answers, explanation, points`

func scanQuestion(row scanner) (domain.Question, error) {
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
FROM quizzes WHERE id = ?;`

	var q domain.Quiz
	err := r.q.QueryRowContext(ctx, quizStmt, id).
		Scan(&q.ID, &q.Title, &q.Description, &q.DefaultPoints, &q.TimePerQuestion, &q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("select quiz %s: %w", id, notFound(err))
	}

	const questionsStmt = `SELECT ` + questionColumns + ` FROM quiz_questions WHERE quiz_id = ? ORDER BY position;`

	rows, err := r.q.QueryContext(ctx, questionsStmt, id)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		qq, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Questions = append(q.Questions, qq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &q, nil
}

func (t *tx) InsertQuiz(ctx context.Context, q *domain.Quiz) error {
	if err := store.EnsureID(&q.ID); err != nil {
		return err
	}

	const quizStmt = `
INSERT INTO quizzes (id, title, description, default_points, time_per_question, created_at)
VALUES (?, ?, ?, ?, ?, ?);`

	if _, err := t.q.ExecContext(ctx, quizStmt, q.ID, q.Title, q.Description, q.DefaultPoints, q.TimePerQuestion, q.CreatedAt); err != nil {
		return fmt.Errorf("insert quiz: %w", conflict(err))
	}

	const questionStmt = `INSERT INTO quiz_questions (` + questionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

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

		_, err = t.q.ExecContext(ctx, questionStmt,
			qq.ID, qq.QuizID, qq.Order, qq.Prompt, string(choices), string(answers), qq.Explanation, qq.Points)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", qq.Order, conflict(err))
		}
	}

	return nil
}

func (t *tx) QuestionByID(ctx context.Context, id string) (*domain.Question, error) {
	const stmt = `SELECT ` + questionColumns + ` FROM quiz_questions WHERE id = ?;`

	q, err := scanQuestion(t.q.QueryRowContext(ctx, stmt, id))
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
WHERE quiz_id = ? AND position > ?
ORDER BY position
LIMIT 1;`

	q, err := scanQuestion(t.q.QueryRowContext(ctx, stmt, quizID, after))
	if err != nil {
		return nil, fmt.Errorf("select question after %d: %w", after, err)
	}
	return &q, nil
}

func (t *tx) InsertStudent(ctx context.Context, s *domain.Student) error {
	if err := store.EnsureID(&s.ID); err != nil {
		return err
	}

	const stmt = `INSERT INTO students (id, student_number, name) VALUES (?, ?, ?);`

	if _, err := t.q.ExecContext(ctx, stmt, s.ID, s.StudentNumber, s.Name); err != nil {
		return fmt.Errorf("insert student: %w", conflict(err))
	}
	return nil
}

func (t *tx) StudentByRef(ctx context.Context, ref string) (*domain.Student, error) {
	const stmt = `
SELECT id, student_number, name
FROM students
WHERE id = ? OR student_number = ?
ORDER BY (id = ?) DESC
LIMIT 1;`

	var s domain.Student
	if err := t.q.QueryRowContext(ctx, stmt, ref, ref, ref).Scan(&s.ID, &s.StudentNumber, &s.Name); err != nil {
		return nil, fmt.Errorf("select student %s: %w", ref, notFound(err))
	}
	return &s, nil
}
