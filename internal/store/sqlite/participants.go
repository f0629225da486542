package sqlite

import (
	"context"
	"fmt"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/store"
)

const participantColumns = `id, session_id, display_name, student_id, joined_at, last_seen_at,
	is_kicked, score, accuracy, response_count, avatar_color, metadata`

func scanParticipant(row scanner) (domain.Participant, error) {
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
	// Scores are stored as decimal text.
	const stmt = `
SELECT ` + participantColumns + `
FROM quiz_participants
WHERE session_id = ?
ORDER BY CAST(score AS REAL) DESC, response_count DESC, joined_at ASC;`

	rows, err := r.q.QueryContext(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var ps []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

func (t *tx) ParticipantByID(ctx context.Context, sessionID, id string) (*domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM quiz_participants WHERE session_id = ? AND id = ?;`

	p, err := scanParticipant(t.q.QueryRowContext(ctx, stmt, sessionID, id))
	if err != nil {
		return nil, fmt.Errorf("select participant %s: %w", id, err)
	}
	return &p, nil
}

func (t *tx) ParticipantByName(ctx context.Context, sessionID, displayName string) (*domain.Participant, error) {
	const stmt = `SELECT ` + participantColumns + ` FROM quiz_participants WHERE session_id = ? AND display_name = ?;`

	p, err := scanParticipant(t.q.QueryRowContext(ctx, stmt, sessionID, displayName))
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

	const stmt = `
INSERT INTO quiz_participants (` + participantColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err = t.q.ExecContext(ctx, stmt,
		p.ID, p.SessionID, p.DisplayName, p.StudentID, p.JoinedAt, p.LastSeenAt,
		p.IsKicked, p.Score.String(), p.Accuracy.String(), p.ResponseCount, p.AvatarColor, string(metadata))
	if err != nil {
		return fmt.Errorf("insert participant: %w", conflict(err))
	}
	return nil
}

func (t *tx) UpdateParticipant(ctx context.Context, p *domain.Participant) error {
	metadata, err := store.EncodeMap(p.Metadata)
	if err != nil {
		return err
	}

	const stmt = `
UPDATE quiz_participants
SET student_id = ?, last_seen_at = ?, is_kicked = ?, score = ?, accuracy = ?,
	response_count = ?, metadata = ?
WHERE id = ?;`

	res, err := t.q.ExecContext(ctx, stmt,
		p.StudentID, p.LastSeenAt, p.IsKicked, p.Score.String(), p.Accuracy.String(), p.ResponseCount, string(metadata), p.ID)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

	_, err = t.q.ExecContext(ctx, stmt,
		r.ID, r.SessionID, r.ParticipantID, r.QuestionID, string(answers), r.IsCorrect, r.Points.String(), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert response: %w", conflict(err))
	}
	return nil
}

func (t *tx) CountCorrectResponses(ctx context.Context, participantID string) (int, error) {
	const stmt = `SELECT COUNT(*) FROM quiz_responses WHERE participant_id = ? AND is_correct = 1;`

	var n int
	if err := t.q.QueryRowContext(ctx, stmt, participantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count correct responses: %w", err)
	}
	return n, nil
}
