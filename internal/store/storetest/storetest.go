// Package storetest provides an in-memory store and seed helpers for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/store"
	"github.com/victornm/gema/internal/store/sqlite"
)

// New returns a migrated in-memory store closed at the end of the test.
func New(t testing.TB) store.Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err, "open sqlite store")
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx), "migrate sqlite store")
	return s
}

// Quiz inserts a quiz with n questions of order 0..n-1. Question i has prompt "Q<i>",
// choices A-D, correct answer "A" and explanation "because <i>".
func Quiz(t testing.TB, s store.Store, n int) *domain.Quiz {
	t.Helper()

	q := &domain.Quiz{
		Title:           "Algoritma Dasar",
		Description:     "Latihan kelas X",
		DefaultPoints:   100,
		TimePerQuestion: 0,
		CreatedAt:       time.Now().UTC(),
	}
	for i := 0; i < n; i++ {
		explanation := fmt.Sprintf("because %d", i)
		q.Questions = append(q.Questions, domain.Question{
			Order:          i,
			Prompt:         fmt.Sprintf("Q%d", i),
			Choices:        []string{"A", "B", "C", "D"},
			CorrectAnswers: []string{"A"},
			Explanation:    &explanation,
		})
	}

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertQuiz(ctx, q)
	}), "insert quiz")
	return q
}

// Session inserts a session for quiz with the given host; mutate adjusts it before insert.
func Session(t testing.TB, s store.Store, quiz *domain.Quiz, hostID, code string, mutate ...func(*domain.Session)) *domain.Session {
	t.Helper()

	now := time.Now().UTC()
	ss := &domain.Session{
		Code:      code,
		QuizID:    quiz.ID,
		HostID:    hostID,
		Mode:      domain.ModeLive,
		Status:    domain.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range mutate {
		m(ss)
	}

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSession(ctx, ss)
	}), "insert session")
	return ss
}

// Participant inserts a participant row directly.
func Participant(t testing.TB, s store.Store, p *domain.Participant) *domain.Participant {
	t.Helper()

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = p.JoinedAt
	}

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertParticipant(ctx, p)
	}), "insert participant")
	return p
}

// Kick flags a participant as removed.
func Kick(t testing.TB, s store.Store, sessionID, participantID string) {
	t.Helper()

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.ParticipantByID(ctx, sessionID, participantID)
		if err != nil {
			return err
		}
		p.IsKicked = true
		return tx.UpdateParticipant(ctx, p)
	}), "kick participant")
}

// Student inserts a student account.
func Student(t testing.TB, s store.Store, number, name string) *domain.Student {
	t.Helper()

	st := &domain.Student{StudentNumber: number, Name: name}
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertStudent(ctx, st)
	}), "insert student")
	return st
}

// Events returns the audit trail of a session.
func Events(t testing.TB, s store.Store, sessionID string) []domain.SessionEvent {
	t.Helper()

	es, err := s.ListEvents(context.Background(), sessionID)
	require.NoError(t, err, "list events")
	return es
}

// Reload fetches the current state of a session.
func Reload(t testing.TB, s store.Store, code string) *domain.Session {
	t.Helper()

	ss, err := s.SessionByCode(context.Background(), code)
	require.NoError(t, err, "reload session")
	return ss
}
