package participant

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/victornm/gema/internal/audit"
	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/session"
	"github.com/victornm/gema/internal/store"
)

const (
	maxDisplayNameLength = 80

	sourceJoin = "join"
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service admits participants into sessions and lets hosts remove them.
type Service struct {
	store store.Store
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Origin describes where a join request came from. It is recorded in the participant metadata.
type Origin struct {
	IP        string
	UserAgent string
}

type JoinRequest struct {
	Code        string
	DisplayName string
	// StudentRef is a student id or student number supplied by an anonymous caller.
	StudentRef string
	Caller     *domain.Identity
	Origin     Origin
}

type JoinResponse struct {
	Participant *domain.Participant
	Session     *domain.Session
	Rejoined    bool
}

// Join admits displayName into the session. Joining again under the same name resumes the
// existing participant; a kicked participant stays out.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	name, err := NormalizeDisplayName(req.DisplayName)
	if err != nil {
		return nil, err
	}

	var resp *JoinResponse
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ss, err := tx.SessionByCode(ctx, session.NormalizeCode(req.Code))
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NotFound("session %s not found", session.NormalizeCode(req.Code))
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if err := checkEligible(ss, now); err != nil {
			return err
		}

		studentID, err := resolveStudent(ctx, tx, req.Caller, req.StudentRef)
		if err != nil {
			return err
		}

		p, err := tx.ParticipantByName(ctx, ss.ID, name)
		if err == nil {
			resp, err = rejoin(ctx, tx, ss, p, studentID, now)
			return err
		}
		if !stderrors.Is(err, store.ErrNotFound) {
			return err
		}

		p = &domain.Participant{
			SessionID:   ss.ID,
			DisplayName: name,
			StudentID:   studentID,
			JoinedAt:    now,
			LastSeenAt:  now,
			Score:       decimal.Zero,
			Accuracy:    decimal.Zero,
			AvatarColor: AvatarColor(name),
			Metadata: map[string]any{
				"joinedAt":  now.Format(time.RFC3339Nano),
				"ip":        req.Origin.IP,
				"userAgent": req.Origin.UserAgent,
				"source":    sourceJoin,
			},
		}
		err = tx.InsertParticipant(ctx, p)
		if stderrors.Is(err, store.ErrConflict) {
			// A concurrent join took the name first.
			p, err = tx.ParticipantByName(ctx, ss.ID, name)
			if err != nil {
				return err
			}
			resp, err = rejoin(ctx, tx, ss, p, studentID, now)
			return err
		}
		if err != nil {
			return err
		}

		resp = &JoinResponse{Participant: p, Session: ss}
		return nil
	})
	if err != nil {
		return nil, wrap("join", err)
	}

	slog.InfoContext(ctx, fmt.Sprintf("participant: %q joined %s", resp.Participant.DisplayName, resp.Session.Code),
		"participant_id", resp.Participant.ID,
		"rejoined", resp.Rejoined,
	)
	return resp, nil
}

func rejoin(ctx context.Context, tx store.Tx, ss *domain.Session, p *domain.Participant, studentID *string, now time.Time) (*JoinResponse, error) {
	if p.IsKicked {
		return nil, errors.Forbidden("removed from session")
	}

	p.LastSeenAt = now
	if p.StudentID == nil {
		p.StudentID = studentID
	}
	p.Metadata = mergeRejoin(p.Metadata, now)

	if err := tx.UpdateParticipant(ctx, p); err != nil {
		return nil, err
	}
	return &JoinResponse{Participant: p, Session: ss, Rejoined: true}, nil
}

// mergeRejoin records a rejoin without dropping existing keys.
func mergeRejoin(m map[string]any, now time.Time) map[string]any {
	if m == nil {
		m = map[string]any{}
	}

	count := 0
	switch v := m["rejoinCount"].(type) {
	case float64:
		count = int(v)
	case int:
		count = v
	}

	m["lastRejoinAt"] = now.Format(time.RFC3339Nano)
	m["rejoinCount"] = count + 1
	return m
}

func checkEligible(ss *domain.Session, now time.Time) error {
	switch ss.Mode {
	case domain.ModeHomework:
		if ss.HomeworkWindowStart != nil && now.Before(*ss.HomeworkWindowStart) {
			return errors.Forbidden("homework window not started")
		}
		if ss.HomeworkWindowEnd != nil && now.After(*ss.HomeworkWindowEnd) {
			return errors.Forbidden("homework window ended")
		}
	default:
		if !ss.Status.Joinable() {
			return errors.Forbidden("session no longer available")
		}
	}
	return nil
}

// resolveStudent links the participant to a student account: the caller's own student
// identity first, then the supplied reference. An unknown reference links nothing.
func resolveStudent(ctx context.Context, tx store.Tx, caller *domain.Identity, ref string) (*string, error) {
	if id := caller.LinkedStudentID(); id != "" {
		return &id, nil
	}

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	st, err := tx.StudentByRef(ctx, ref)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st.ID, nil
}

// NormalizeDisplayName trims name and checks it is usable as a display name.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.Validation("display name is required")
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return "", errors.Validation("display name must be at most %d characters", maxDisplayNameLength)
	}
	return name, nil
}

type KickRequest struct {
	Code          string
	ParticipantID string
	Caller        *domain.Identity
}

// Kick removes a participant from a session hosted by the caller. Kicking twice is a no-op.
func (s *Service) Kick(ctx context.Context, req KickRequest) (*domain.Participant, error) {
	if err := session.RequireStaff(req.Caller); err != nil {
		return nil, err
	}

	var (
		p  *domain.Participant
		ss *domain.Session
		e  *domain.SessionEvent
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ss, err = session.LockHostedSession(ctx, tx, req.Code, req.Caller)
		if err != nil {
			return err
		}

		p, err = tx.ParticipantByID(ctx, ss.ID, req.ParticipantID)
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NotFound("participant %s not found", req.ParticipantID)
		}
		if err != nil {
			return err
		}
		if p.IsKicked {
			return nil
		}

		p.IsKicked = true
		if err := tx.UpdateParticipant(ctx, p); err != nil {
			return err
		}

		e, err = audit.Append(ctx, tx, s.now().UTC(), ss.ID, domain.SessionEventParticipantKicked, req.Caller, audit.ParticipantKickedPayload(*p))
		return err
	})
	if err != nil {
		return nil, wrap("kick", err)
	}

	if e == nil {
		return p, nil
	}

	slog.InfoContext(ctx, fmt.Sprintf("participant: %q kicked from %s", p.DisplayName, ss.Code),
		"participant_id", p.ID,
		"actor", e.ActorID,
	)
	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionChanged{Session: *ss, Event: *e})
	}
	return p, nil
}

// wrap keeps domain errors as they are and turns anything else into Internal.
func wrap(op string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}
	return errors.Internal(fmt.Errorf("participant: %s: %w", op, err))
}
