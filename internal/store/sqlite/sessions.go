package sqlite

import (
	"context"
	"fmt"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/store"
)

const sessionColumns = `id, code, quiz_id, host_id, mode, status, title, description,
	started_at, finished_at, scheduled_start, scheduled_end, homework_window_start, homework_window_end,
	current_question_id, current_question_started_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID, &s.Code, &s.QuizID, &s.HostID, &s.Mode, &s.Status, &s.Title, &s.Description,
		&s.StartedAt, &s.FinishedAt, &s.ScheduledStart, &s.ScheduledEnd, &s.HomeworkWindowStart, &s.HomeworkWindowEnd,
		&s.CurrentQuestionID, &s.CurrentQuestionStartedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r reader) SessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM quiz_sessions WHERE code = ?;`

	s, err := scanSession(r.q.QueryRowContext(ctx, stmt, code))
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", code, err)
	}
	return s, nil
}

// LockSessionByCode relies on the immediate transaction for exclusivity.
func (t *tx) LockSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	return t.SessionByCode(ctx, code)
}

func (t *tx) InsertSession(ctx context.Context, s *domain.Session) error {
	if err := store.EnsureID(&s.ID); err != nil {
		return err
	}

	const stmt = `
INSERT INTO quiz_sessions (` + sessionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err := t.q.ExecContext(ctx, stmt,
		s.ID, s.Code, s.QuizID, s.HostID, string(s.Mode), string(s.Status), s.Title, s.Description,
		s.StartedAt, s.FinishedAt, s.ScheduledStart, s.ScheduledEnd, s.HomeworkWindowStart, s.HomeworkWindowEnd,
		s.CurrentQuestionID, s.CurrentQuestionStartedAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", conflict(err))
	}
	return nil
}

func (t *tx) UpdateSession(ctx context.Context, s *domain.Session) error {
	const stmt = `
UPDATE quiz_sessions
SET status = ?, started_at = ?, finished_at = ?,
	current_question_id = ?, current_question_started_at = ?, updated_at = ?
WHERE id = ?;`

	res, err := t.q.ExecContext(ctx, stmt,
		string(s.Status), s.StartedAt, s.FinishedAt, s.CurrentQuestionID, s.CurrentQuestionStartedAt, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update session %s: %w", s.ID, store.ErrNotFound)
	}
	return nil
}

func (r reader) ListEvents(ctx context.Context, sessionID string) ([]domain.SessionEvent, error) {
	const stmt = `
SELECT id, session_id, type, actor_id, actor_name, payload, created_at
FROM quiz_session_events
WHERE session_id = ?
ORDER BY created_at, rowid;`

	rows, err := r.q.QueryContext(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var events []domain.SessionEvent
	for rows.Next() {
		var (
			e       domain.SessionEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.ActorID, &e.ActorName, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Payload, err = store.DecodeMap(payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (t *tx) InsertEvent(ctx context.Context, e *domain.SessionEvent) error {
	if err := store.EnsureID(&e.ID); err != nil {
		return err
	}

	payload, err := store.EncodeMap(e.Payload)
	if err != nil {
		return err
	}

	const stmt = `
INSERT INTO quiz_session_events (id, session_id, type, actor_id, actor_name, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);`

	if _, err := t.q.ExecContext(ctx, stmt, e.ID, e.SessionID, string(e.Type), e.ActorID, e.ActorName, string(payload), e.CreatedAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
