package leaderboard

import (
	"cmp"
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/session"
	"github.com/victornm/gema/internal/store"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
)

type Config struct {
	Store    store.Reader
	EventBus *event.Bus
	// Redis throttles leaderboard.updated publications across instances. Without it no
	// leaderboard.updated events are published.
	Redis  redis.UniversalClient
	Prefix string
	// PublishInterval defaults to 200ms.
	PublishInterval time.Duration
}

type Service struct {
	store    store.Reader
	eb       *event.Bus
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		eb:       c.EventBus,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
	}
	if s.interval <= 0 {
		s.interval = defaultPublishInterval
	}

	if s.eb != nil && s.redis != nil {
		event.On(s.eb, s.OnAnswerSubmitted)
	}

	return s
}

// Snapshot is the read model of a session as seen by one caller.
type Snapshot struct {
	// Session has an empty HostID unless IsHostView.
	Session         domain.Session
	Quiz            domain.Quiz
	Leaderboard     []domain.LeaderboardEntry
	CurrentQuestion *domain.Question
	IsHostView      bool
}

type GetSnapshotRequest struct {
	Code   string
	Caller *domain.Identity
}

// GetSnapshot returns the session, its quiz, the ranked participants and the question in play.
// Any staff caller gets the host view; everyone else gets the answer keys redacted.
func (s *Service) GetSnapshot(ctx context.Context, req GetSnapshotRequest) (*Snapshot, error) {
	code := session.NormalizeCode(req.Code)

	ss, err := s.store.SessionByCode(ctx, code)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFound("session %s not found", code)
	}
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("leaderboard: load session %s: %w", code, err))
	}

	var (
		quiz *domain.Quiz
		ps   []domain.Participant
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		quiz, err = s.store.QuizByID(egCtx, ss.QuizID)
		return err
	})
	eg.Go(func() error {
		var err error
		ps, err = s.store.ListParticipants(egCtx, ss.ID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, errors.Internal(fmt.Errorf("leaderboard: load session %s: %w", code, err))
	}

	return Project(*ss, *quiz, ps, req.Caller.IsStaff()), nil
}

// Project builds the snapshot of one session for a host or non-host viewer.
func Project(ss domain.Session, quiz domain.Quiz, ps []domain.Participant, hostView bool) *Snapshot {
	if !hostView {
		ss.HostID = ""
		quiz = Redact(quiz)
	}

	snap := &Snapshot{
		Session:     ss,
		Quiz:        quiz,
		Leaderboard: Rank(ps),
		IsHostView:  hostView,
	}
	if ss.CurrentQuestionID != nil {
		for i := range snap.Quiz.Questions {
			if snap.Quiz.Questions[i].ID == *ss.CurrentQuestionID {
				snap.CurrentQuestion = &snap.Quiz.Questions[i]
				break
			}
		}
	}
	return snap
}

// Redact returns a copy of quiz with the answer key removed from every question.
func Redact(quiz domain.Quiz) domain.Quiz {
	qs := make([]domain.Question, len(quiz.Questions))
	for i, q := range quiz.Questions {
		q.CorrectAnswers = nil
		q.Explanation = nil
		qs[i] = q
	}
	quiz.Questions = qs
	return quiz
}

// Rank drops kicked participants and orders the rest by score, then response count, then
// who joined first. Ranks are 1-based positions.
func Rank(ps []domain.Participant) []domain.LeaderboardEntry {
	active := make([]domain.Participant, 0, len(ps))
	for _, p := range ps {
		if !p.IsKicked {
			active = append(active, p)
		}
	}

	slices.SortStableFunc(active, func(a, b domain.Participant) int {
		if c := b.Score.Cmp(a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.ResponseCount, a.ResponseCount); c != 0 {
			return c
		}
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	entries := make([]domain.LeaderboardEntry, 0, len(active))
	for i, p := range active {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Rank:          i + 1,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Accuracy:      p.Accuracy,
			ResponseCount: p.ResponseCount,
			JoinedAt:      p.JoinedAt,
			LastSeenAt:    p.LastSeenAt,
			AvatarColor:   p.AvatarColor,
		})
	}
	return entries
}

// OnAnswerSubmitted publishes the session's ranking, at most once per publish interval.
func (s *Service) OnAnswerSubmitted(ctx context.Context, e domain.EventAnswerSubmitted) error {
	ok, err := s.redis.SetNX(ctx, s.throttleKey(e.SessionID), time.Now().UnixMilli(), s.interval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil
	}

	ps, err := s.store.ListParticipants(ctx, e.SessionID)
	if err != nil {
		return fmt.Errorf("list participants failed: session=%s: %w", e.SessionCode, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{
			SessionID:   e.SessionID,
			SessionCode: e.SessionCode,
			Entries:     Rank(ps),
		},
	})
	return nil
}

func (s *Service) throttleKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:leaderboard:time", s.prefix, sessionID)
}
