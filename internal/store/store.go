// Package store declares the persistence contract of the quiz session service.
// Implementations live in the postgres and sqlite subpackages.
package store

import (
	"context"
	"errors"

	"github.com/victornm/gema/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an insert violates a unique constraint.
	ErrConflict = errors.New("store: conflict")
)

// Store is a transactional session store.
type Store interface {
	Reader

	// InTx runs fn in a single transaction. The transaction commits when fn returns nil
	// and rolls back otherwise. fn must only use tx, never the Store itself.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Migrate(ctx context.Context) error
	Close()
}

// Reader holds the queries usable both inside and outside a transaction.
type Reader interface {
	SessionByCode(ctx context.Context, code string) (*domain.Session, error)
	// QuizByID returns the quiz with its questions in ascending order.
	QuizByID(ctx context.Context, id string) (*domain.Quiz, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	// ListEvents returns the audit trail of a session, oldest first.
	ListEvents(ctx context.Context, sessionID string) ([]domain.SessionEvent, error)
}

// Tx is a unit of work. Lifecycle mutations lock the session row first.
type Tx interface {
	Reader

	// LockSessionByCode loads the session and holds a write lock on it until the
	// transaction ends.
	LockSessionByCode(ctx context.Context, code string) (*domain.Session, error)
	InsertSession(ctx context.Context, s *domain.Session) error
	UpdateSession(ctx context.Context, s *domain.Session) error

	InsertQuiz(ctx context.Context, q *domain.Quiz) error
	QuestionByID(ctx context.Context, id string) (*domain.Question, error)
	FirstQuestion(ctx context.Context, quizID string) (*domain.Question, error)
	// NextQuestion returns the question of quizID with the smallest order strictly greater than after.
	NextQuestion(ctx context.Context, quizID string, after int) (*domain.Question, error)

	ParticipantByID(ctx context.Context, sessionID, id string) (*domain.Participant, error)
	ParticipantByName(ctx context.Context, sessionID, displayName string) (*domain.Participant, error)
	InsertParticipant(ctx context.Context, p *domain.Participant) error
	UpdateParticipant(ctx context.Context, p *domain.Participant) error

	InsertResponse(ctx context.Context, r *domain.Response) error
	CountCorrectResponses(ctx context.Context, participantID string) (int, error)

	InsertStudent(ctx context.Context, s *domain.Student) error
	// StudentByRef resolves ref as either a student id or a student number.
	StudentByRef(ctx context.Context, ref string) (*domain.Student, error)

	InsertEvent(ctx context.Context, e *domain.SessionEvent) error
}
