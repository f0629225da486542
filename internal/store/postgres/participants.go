package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/store"
)

const participantColumns = `id, session_id, display_name, student_id, joined_at, last_seen_at,
	is_kicked, score, accuracy, response_count, avatar_color, metadata`

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		p        domain.Participant
		metadata []byte
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.StudentID, &p.JoinedAt, &p.LastSeenAt,
		&p.IsKicked, &p.Score, &p.Accuracy, &p.ResponseCount, &p.AvatarColor, &metadata)
	if err != nil {
		return domain.Participant{}, notFound(err)
	}

	if p.Metadata, err = store.DecodeMap(metadata); err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

func (r reader) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	const stmt = `
SELECT ` + participantColumns + `
FROM quiz_participants
WHERE session_id = $1
ORDER BY score DESC, response_count DESC, joined_at ASC;`

	rows, err := r.q.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}

	ps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Participant, error) {
		return scanParticipant(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan participants: %w", err)
	}
	return ps, nil
}

func (t *tx) ParticipantByID(ctx context.Context, sessionID, id string) (*domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM quiz_participants WHERE session_id = $1 AND id = $2 FOR UPDATE;`

	p, err := scanParticipant(t.q.QueryRow(ctx, stmt, sessionID, id))
	if err != nil {
		return nil, fmt.Errorf("select participant %s: %w", id, err)
	}
	return &p, nil
}

func (t *tx) ParticipantByName(ctx context.Context, sessionID, displayName string) (*domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM quiz_participants WHERE session_id = $1 AND display_name = $2 FOR UPDATE;`

	p, err := scanParticipant(t.q.QueryRow(ctx, stmt, sessionID, displayName))
	if err != nil {
		return nil, fmt.Errorf("select participant %q: %w", displayName, err)
	}
	return &p, nil
}

func (t *tx) InsertParticipant(ctx context.Context, p *domain.Participant) error {
	if err := store.EnsureID(&p.ID); err != nil {
		return err
	}

	metadata, err := store.EncodeMap(p.Metadata)
	if err != nil {
		return err
	}

	// ON CONFLICT DO NOTHING keeps the transaction usable when a concurrent join won the race.
	const stmt = `
INSERT INTO quiz_participants (` + participantColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id, display_name) DO NOTHING;`

	tag, err := t.q.Exec(ctx, stmt,
		p.ID, p.SessionID, p.DisplayName, p.StudentID, p.JoinedAt, p.LastSeenAt,
		p.IsKicked, p.Score, p.Accuracy, p.ResponseCount, p.AvatarColor, metadata)
	if err != nil {
		return fmt.Errorf("insert participant: %w", conflict(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert participant %q: %w", p.DisplayName, store.ErrConflict)
	}
	return nil
}

// UpdateParticipant writes every mutable participant field.
func (t *tx) UpdateParticipant(ctx context.Context, p *domain.Participant) error {
	metadata, err := store.EncodeMap(p.Metadata)
	if err != nil {
		return err
	}

	const stmt = `
UPDATE quiz_participants
SET student_id = $2, last_seen_at = $3, is_kicked = $4, score = $5, accuracy = $6,
	response_count = $7, metadata = $8
WHERE id = $1;`

	tag, err := t.q.Exec(ctx, stmt,
		p.ID, p.StudentID, p.LastSeenAt, p.IsKicked, p.Score, p.Accuracy, p.ResponseCount, metadata)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update participant %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) InsertResponse(ctx context.Context, r *domain.Response) error {
	if err := store.EnsureID(&r.ID); err != nil {
		return err
	}

	answers, err := store.EncodeStrings(r.Answers)
	if err != nil {
		return err
	}

	const stmt = `
INSERT INTO quiz_responses (id, session_id, participant_id, question_id, answers, is_correct, points, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err = t.q.Exec(ctx, stmt, r.ID, r.SessionID, r.ParticipantID, r.QuestionID, answers, r.IsCorrect, r.Points, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert response: %w", conflict(err))
	}
	return nil
}

func (t *tx) CountCorrectResponses(ctx context.Context, participantID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM quiz_responses WHERE participant_id = $1 AND is_correct;`

	var n int
	if err := t.q.QueryRow(ctx, stmt, participantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count correct responses: %w", err)
	}
	return n, nil
}
