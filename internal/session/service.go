package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/gema/internal/audit"
	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/store"
)

const maxCodeAttempts = 5

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	// Now defaults to time.Now.
	Now func() time.Time
	// NewCode defaults to NewCode.
	NewCode func() (string, error)
}

// Service owns the session state machine: DRAFT/SCHEDULED -> ACTIVE -> COMPLETED.
type Service struct {
	store   store.Store
	eb      *event.Bus
	now     func() time.Time
	newCode func() (string, error)
}

func NewService(c Config) *Service {
	s := &Service{
		store:   c.Store,
		eb:      c.EventBus,
		now:     c.Now,
		newCode: c.NewCode,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newCode == nil {
		s.newCode = NewCode
	}
	return s
}

// State is a session together with its quiz and the question in play.
type State struct {
	Session         *domain.Session
	Quiz            *domain.Quiz
	CurrentQuestion *domain.Question
}

// CreateSessionRequest represents a request to open a new session of a quiz.
type CreateSessionRequest struct {
	Caller      *domain.Identity
	QuizID      string
	Mode        domain.SessionMode
	Title       *string
	Description *string

	ScheduledStart      *time.Time
	ScheduledEnd        *time.Time
	HomeworkWindowStart *time.Time
	HomeworkWindowEnd   *time.Time
}

// CreateSession opens a DRAFT session (SCHEDULED when a LIVE start time is given) hosted by the caller.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*State, error) {
	if err := RequireStaff(req.Caller); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = domain.ModeLive
	}
	if !req.Mode.Valid() {
		return nil, errors.Validation("invalid mode %q", req.Mode)
	}
	if err := validateWindow("scheduled", req.ScheduledStart, req.ScheduledEnd); err != nil {
		return nil, err
	}
	if err := validateWindow("homework window", req.HomeworkWindowStart, req.HomeworkWindowEnd); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ss := &domain.Session{
		QuizID:              req.QuizID,
		HostID:              req.Caller.ID,
		Mode:                req.Mode,
		Status:              domain.StatusDraft,
		Title:               req.Title,
		Description:         req.Description,
		ScheduledStart:      utc(req.ScheduledStart),
		ScheduledEnd:        utc(req.ScheduledEnd),
		HomeworkWindowStart: utc(req.HomeworkWindowStart),
		HomeworkWindowEnd:   utc(req.HomeworkWindowEnd),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if ss.Mode == domain.ModeLive && ss.ScheduledStart != nil {
		ss.Status = domain.StatusScheduled
	}

	var (
		st *State
		e  *domain.SessionEvent
	)
	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, errors.Internal(err)
		}
		ss.ID, ss.Code = "", code

		err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			quiz, err := tx.QuizByID(ctx, req.QuizID)
			if stderrors.Is(err, store.ErrNotFound) {
				return errors.NotFound("quiz %s not found", req.QuizID)
			}
			if err != nil {
				return err
			}

			if err := tx.InsertSession(ctx, ss); err != nil {
				return err
			}

			e, err = audit.Append(ctx, tx, now, ss.ID, domain.SessionEventCreated, req.Caller, audit.CreatedPayload(quiz.ID, ss.Mode))
			if err != nil {
				return err
			}

			st = &State{Session: ss, Quiz: quiz}
			return nil
		})
		if stderrors.Is(err, store.ErrConflict) && attempt < maxCodeAttempts {
			slog.WarnContext(ctx, "session: code collision, retrying", "code", code, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, wrap("create session", err)
		}
		break
	}

	s.publish(ctx, st.Session, e)
	return st, nil
}

// StartRequest is shared by the host-only lifecycle operations.
type StartRequest struct {
	Code   string
	Caller *domain.Identity
}

type (
	AdvanceRequest = StartRequest
	FinishRequest  = StartRequest
)

// Start puts the first question in play. Starting an ACTIVE session is a no-op.
func (s *Service) Start(ctx context.Context, req StartRequest) (*State, error) {
	if err := RequireStaff(req.Caller); err != nil {
		return nil, err
	}

	var (
		st *State
		e  *domain.SessionEvent
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := LockHostedSession(ctx, tx, req.Code, req.Caller)
		if err != nil {
			return err
		}

		switch ss.Status {
		case domain.StatusCompleted:
			return errors.InvalidState("session %s is already completed", ss.Code)
		case domain.StatusActive:
			st, err = loadState(ctx, tx, ss)
			return err
		}

		first, err := tx.FirstQuestion(ctx, ss.QuizID)
		if stderrors.Is(err, store.ErrNotFound) {
			first, err = nil, nil
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		ss.Status = domain.StatusActive
		if ss.StartedAt == nil {
			ss.StartedAt = &now
		}
		ss.SetCurrentQuestion(first, now)
		ss.UpdatedAt = now

		if err := tx.UpdateSession(ctx, ss); err != nil {
			return err
		}

		e, err = audit.Append(ctx, tx, now, ss.ID, domain.SessionEventStarted, req.Caller, audit.StartedPayload(ss.CurrentQuestionID))
		if err != nil {
			return err
		}

		st, err = loadState(ctx, tx, ss)
		return err
	})
	if err != nil {
		return nil, wrap("start session", err)
	}

	s.publish(ctx, st.Session, e)
	return st, nil
}

type AdvanceResponse struct {
	State
	HasMoreQuestions bool
}

// Advance moves an ACTIVE session to the next question by order, completing it after the last one.
func (s *Service) Advance(ctx context.Context, req AdvanceRequest) (*AdvanceResponse, error) {
	if err := RequireStaff(req.Caller); err != nil {
		return nil, err
	}

	var (
		resp *AdvanceResponse
		e    *domain.SessionEvent
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := LockHostedSession(ctx, tx, req.Code, req.Caller)
		if err != nil {
			return err
		}
		if ss.Status != domain.StatusActive {
			return errors.InvalidState("cannot advance a %s session", ss.Status)
		}

		after, err := currentOrder(ctx, tx, ss)
		if err != nil {
			return err
		}

		next, err := tx.NextQuestion(ctx, ss.QuizID, after)
		if stderrors.Is(err, store.ErrNotFound) {
			next, err = nil, nil
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		ss.UpdatedAt = now
		if next == nil {
			complete(ss, now)
			if err := tx.UpdateSession(ctx, ss); err != nil {
				return err
			}
			e, err = audit.Append(ctx, tx, now, ss.ID, domain.SessionEventFinished, req.Caller, audit.FinishedPayload(audit.FinishReasonLastQuestion))
			if err != nil {
				return err
			}
		} else {
			ss.SetCurrentQuestion(next, now)
			if err := tx.UpdateSession(ctx, ss); err != nil {
				return err
			}
			e, err = audit.Append(ctx, tx, now, ss.ID, domain.SessionEventQuestionAdvanced, req.Caller, audit.QuestionAdvancedPayload(*next))
			if err != nil {
				return err
			}
		}

		st, err := loadState(ctx, tx, ss)
		if err != nil {
			return err
		}
		resp = &AdvanceResponse{State: *st, HasMoreQuestions: ss.Status == domain.StatusActive}
		return nil
	})
	if err != nil {
		return nil, wrap("advance session", err)
	}

	s.publish(ctx, resp.Session, e)
	return resp, nil
}

// Finish completes the session. Finishing a COMPLETED session is a no-op.
func (s *Service) Finish(ctx context.Context, req FinishRequest) (*State, error) {
	if err := RequireStaff(req.Caller); err != nil {
		return nil, err
	}

	var (
		st *State
		e  *domain.SessionEvent
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := LockHostedSession(ctx, tx, req.Code, req.Caller)
		if err != nil {
			return err
		}

		if ss.Status != domain.StatusCompleted {
			now := s.now().UTC()
			complete(ss, now)
			ss.UpdatedAt = now
			if err := tx.UpdateSession(ctx, ss); err != nil {
				return err
			}
			e, err = audit.Append(ctx, tx, now, ss.ID, domain.SessionEventFinished, req.Caller, audit.FinishedPayload(audit.FinishReasonHost))
			if err != nil {
				return err
			}
		}

		st, err = loadState(ctx, tx, ss)
		return err
	})
	if err != nil {
		return nil, wrap("finish session", err)
	}

	s.publish(ctx, st.Session, e)
	return st, nil
}

// Events returns the audit trail of a session to its host.
func (s *Service) Events(ctx context.Context, req StartRequest) ([]domain.SessionEvent, error) {
	if err := RequireStaff(req.Caller); err != nil {
		return nil, err
	}

	ss, err := s.store.SessionByCode(ctx, NormalizeCode(req.Code))
	if stderrors.Is(err, store.ErrNotFound) || (err == nil && ss.HostID != req.Caller.ID) {
		return nil, errSessionNotFound(req.Code)
	}
	if err != nil {
		return nil, wrap("list events", err)
	}

	es, err := s.store.ListEvents(ctx, ss.ID)
	if err != nil {
		return nil, wrap("list events", err)
	}
	return es, nil
}

func (s *Service) publish(ctx context.Context, ss *domain.Session, e *domain.SessionEvent) {
	if e == nil || s.eb == nil {
		return
	}

	slog.InfoContext(ctx, fmt.Sprintf("session: %s %s", ss.Code, e.Type),
		"session_id", ss.ID,
		"status", ss.Status,
		"actor", e.ActorID,
	)

	s.eb.Publish(ctx, domain.EventSessionChanged{
		Session: *ss,
		Event:   *e,
	})
}

func complete(ss *domain.Session, now time.Time) {
	ss.Status = domain.StatusCompleted
	ss.FinishedAt = &now
	ss.ClearCurrentQuestion()
}

// currentOrder returns the order of the question in play, or -1 when there is none.
func currentOrder(ctx context.Context, tx store.Tx, ss *domain.Session) (int, error) {
	if ss.CurrentQuestionID == nil {
		return -1, nil
	}

	q, err := tx.QuestionByID(ctx, *ss.CurrentQuestionID)
	if stderrors.Is(err, store.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	if q.QuizID != ss.QuizID {
		return 0, fmt.Errorf("current question %s does not belong to quiz %s", q.ID, ss.QuizID)
	}
	return q.Order, nil
}

func loadState(ctx context.Context, tx store.Tx, ss *domain.Session) (*State, error) {
	quiz, err := tx.QuizByID(ctx, ss.QuizID)
	if err != nil {
		return nil, err
	}

	st := &State{Session: ss, Quiz: quiz}
	if ss.CurrentQuestionID != nil {
		for i := range quiz.Questions {
			if quiz.Questions[i].ID == *ss.CurrentQuestionID {
				st.CurrentQuestion = &quiz.Questions[i]
				break
			}
		}
	}
	return st, nil
}

func validateWindow(name string, start, end *time.Time) error {
	if start != nil && end != nil && !end.After(*start) {
		return errors.Validation("%s end must be after its start", name)
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// wrap keeps domain errors as they are and turns anything else into Internal.
func wrap(op string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}
	return errors.Internal(fmt.Errorf("session: %s: %w", op, err))
}
