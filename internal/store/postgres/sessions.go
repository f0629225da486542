package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/store"
)

const sessionColumns = `id, code, quiz_id, host_id, mode, status, title, description,
	started_at, finished_at, scheduled_start, scheduled_end, homework_window_start, homework_window_end,
	current_question_id, current_question_started_at, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
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
	const stmt = `SELECT ` + sessionColumns + ` FROM quiz_sessions WHERE code = $1;`

	s, err := scanSession(r.q.QueryRow(ctx, stmt, code))
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", code, err)
	}
	return s, nil
}

func (t *tx) LockSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM quiz_sessions WHERE code = $1 FOR UPDATE;`

	s, err := scanSession(t.q.QueryRow(ctx, stmt, code))
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", code, err)
	}
	return s, nil
}

func (t *tx) InsertSession(ctx context.Context, s *domain.Session) error {
	if err := store.EnsureID(&s.ID); err != nil {
		return err
	}

	const stmt = `
INSERT INTO quiz_sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18);`

	_, err := t.q.Exec(ctx, stmt,
		s.ID, s.Code, s.QuizID, s.HostID, s.Mode, s.Status, s.Title, s.Description,
		s.StartedAt, s.FinishedAt, s.ScheduledStart, s.ScheduledEnd, s.HomeworkWindowStart, s.HomeworkWindowEnd,
		s.CurrentQuestionID, s.CurrentQuestionStartedAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", conflict(err))
	}
	return nil
}

// UpdateSession writes the mutable lifecycle fields of s.
func (t *tx) UpdateSession(ctx context.Context, s *domain.Session) error {
	const stmt = `
UPDATE quiz_sessions
SET status = $2, started_at = $3, finished_at = $4,
	current_question_id = $5, current_question_started_at = $6, updated_at = $7
WHERE id = $1;`

	tag, err := t.q.Exec(ctx, stmt,
		s.ID, s.Status, s.StartedAt, s.FinishedAt, s.CurrentQuestionID, s.CurrentQuestionStartedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s: %w", s.ID, store.ErrNotFound)
	}
	return nil
}

func (r reader) ListEvents(ctx context.Context, sessionID string) ([]domain.SessionEvent, error) {
	const stmt = `
SELECT id, session_id, type, actor_id, actor_name, payload, created_at
FROM quiz_session_events
WHERE session_id = $1
ORDER BY created_at, id;`

	rows, err := r.q.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SessionEvent, error) {
		var (
			e       domain.SessionEvent
			payload []byte
		)
		if err := row.Scan(&e.ID, &e.SessionID, &e.Type, &e.ActorID, &e.ActorName, &payload, &e.CreatedAt); err != nil {
			return domain.SessionEvent{}, err
		}
		m, err := store.DecodeMap(payload)
		if err != nil {
			return domain.SessionEvent{}, err
		}
		e.Payload = m
		return e, nil
	})
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
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	if _, err := t.q.Exec(ctx, stmt, e.ID, e.SessionID, e.Type, e.ActorID, e.ActorName, payload, e.CreatedAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
