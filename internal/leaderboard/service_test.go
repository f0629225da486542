package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/leaderboard"
	"github.com/victornm/gema/internal/store"
	"github.com/victornm/gema/internal/store/storetest"
)

var base = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

func TestRank(t *testing.T) {
	ps := []domain.Participant{
		{ID: "p1", DisplayName: "Alice", Score: decimal.NewFromInt(50), JoinedAt: base},
		{ID: "p2", DisplayName: "Budi", Score: decimal.NewFromInt(80), JoinedAt: base.Add(2 * time.Minute)},
		{ID: "p3", DisplayName: "Citra", Score: decimal.NewFromInt(80), JoinedAt: base.Add(time.Minute)},
		{ID: "p4", DisplayName: "Dewi", Score: decimal.NewFromInt(30), JoinedAt: base.Add(3 * time.Minute)},
		{ID: "p5", DisplayName: "Eko", Score: decimal.NewFromInt(999), JoinedAt: base, IsKicked: true},
	}

	got := leaderboard.Rank(ps)

	require.Len(t, got, 4, "kicked participants never appear")
	var names []string
	for i, e := range got {
		assert.Equal(t, i+1, e.Rank)
		names = append(names, e.DisplayName)
	}
	assert.Equal(t, []string{"Citra", "Budi", "Alice", "Dewi"}, names, "ties on score go to the earlier joiner")
}

func TestRank_TieBreakers(t *testing.T) {
	tests := map[string]struct {
		ps   []domain.Participant
		want []string
	}{
		"more responses wins a score tie": {
			ps: []domain.Participant{
				{ID: "a", Score: decimal.NewFromInt(10), ResponseCount: 1, JoinedAt: base},
				{ID: "b", Score: decimal.NewFromInt(10), ResponseCount: 3, JoinedAt: base.Add(time.Minute)},
			},
			want: []string{"b", "a"},
		},
		"id settles a full tie": {
			ps: []domain.Participant{
				{ID: "z", Score: decimal.NewFromInt(10), JoinedAt: base},
				{ID: "m", Score: decimal.NewFromInt(10), JoinedAt: base},
			},
			want: []string{"m", "z"},
		},
		"scores compare numerically": {
			ps: []domain.Participant{
				{ID: "a", Score: decimal.RequireFromString("9.5")},
				{ID: "b", Score: decimal.RequireFromString("10")},
			},
			want: []string{"b", "a"},
		},
		"no participants": {
			ps:   nil,
			want: nil,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var got []string
			for _, e := range leaderboard.Rank(tt.ps) {
				got = append(got, e.ParticipantID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_GetSnapshot(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 3)
	ss := storetest.Session(t, s, quiz, "teacher-1", "QUIZ01", func(ss *domain.Session) {
		ss.Status = domain.StatusActive
		ss.SetCurrentQuestion(&quiz.Questions[1], base)
	})
	for i, score := range []int64{50, 80, 80, 30} {
		storetest.Participant(t, s, &domain.Participant{
			SessionID:   ss.ID,
			DisplayName: string(rune('A' + i)),
			Score:       decimal.NewFromInt(score),
			JoinedAt:    base.Add(time.Duration(i) * time.Minute),
			Metadata:    map[string]any{"ip": "10.0.0.1"},
		})
	}
	kicked := storetest.Participant(t, s, &domain.Participant{SessionID: ss.ID, DisplayName: "Kicked", Score: decimal.NewFromInt(500)})
	storetest.Kick(t, s, ss.ID, kicked.ID)

	svc := leaderboard.NewService(leaderboard.Config{Store: s})

	tests := map[string]struct {
		caller   *domain.Identity
		hostView bool
	}{
		"anonymous caller":          {caller: nil},
		"student caller":            {caller: &domain.Identity{ID: "s1", Role: domain.RoleStudent}},
		"host":                      {caller: &domain.Identity{ID: "teacher-1", Role: domain.RoleTeacher}, hostView: true},
		"staff who is not the host": {caller: &domain.Identity{ID: "admin-1", Role: domain.RoleAdmin}, hostView: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			snap, err := svc.GetSnapshot(context.Background(), leaderboard.GetSnapshotRequest{Code: "quiz01", Caller: tt.caller})
			require.NoError(t, err)

			assert.Equal(t, tt.hostView, snap.IsHostView)
			require.Len(t, snap.Quiz.Questions, 3)
			for _, q := range snap.Quiz.Questions {
				if tt.hostView {
					assert.NotNil(t, q.CorrectAnswers, "question %d", q.Order)
					assert.NotNil(t, q.Explanation, "question %d", q.Order)
				} else {
					assert.Nil(t, q.CorrectAnswers, "question %d", q.Order)
					assert.Nil(t, q.Explanation, "question %d", q.Order)
				}
				assert.NotEmpty(t, q.Prompt)
				assert.Len(t, q.Choices, 4)
			}

			if tt.hostView {
				assert.Equal(t, "teacher-1", snap.Session.HostID)
			} else {
				assert.Empty(t, snap.Session.HostID)
			}

			require.NotNil(t, snap.CurrentQuestion)
			assert.Equal(t, 1, snap.CurrentQuestion.Order)
			assert.Equal(t, tt.hostView, snap.CurrentQuestion.CorrectAnswers != nil)

			require.Len(t, snap.Leaderboard, 4)
			assert.Equal(t, "B", snap.Leaderboard[0].DisplayName)
			assert.Equal(t, "C", snap.Leaderboard[1].DisplayName)
			assert.Equal(t, "A", snap.Leaderboard[2].DisplayName)
			assert.Equal(t, "D", snap.Leaderboard[3].DisplayName)
			assert.Equal(t, 4, snap.Leaderboard[3].Rank)
		})
	}

	stored := storetest.Reload(t, s, "QUIZ01")
	assert.Equal(t, "teacher-1", stored.HostID, "projection must not leak into the store")
}

func TestService_GetSnapshot_NoCurrentQuestion(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 0)
	storetest.Session(t, s, quiz, "teacher-1", "QUIZ01")
	svc := leaderboard.NewService(leaderboard.Config{Store: s})

	snap, err := svc.GetSnapshot(context.Background(), leaderboard.GetSnapshotRequest{Code: "QUIZ01"})
	require.NoError(t, err)
	assert.Nil(t, snap.CurrentQuestion)
	assert.Empty(t, snap.Leaderboard)

	_, err = svc.GetSnapshot(context.Background(), leaderboard.GetSnapshotRequest{Code: "NOPE99"})
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestRedact_DoesNotTouchInput(t *testing.T) {
	explanation := "because"
	quiz := domain.Quiz{Questions: []domain.Question{{ID: "q1", CorrectAnswers: []string{"A"}, Explanation: &explanation}}}

	redacted := leaderboard.Redact(quiz)

	assert.Nil(t, redacted.Questions[0].CorrectAnswers)
	assert.Nil(t, redacted.Questions[0].Explanation)
	assert.Equal(t, []string{"A"}, quiz.Questions[0].CorrectAnswers)
	assert.NotNil(t, quiz.Questions[0].Explanation)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventAnswerSubmitted
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func(f fixture) inputs
		assert  func(t *testing.T, f fixture, out outputs)
	}{
		"should publish leaderboard.updated after an answer is submitted": {
			arrange: func(f fixture) inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerSubmitted{
						{SessionID: f.sessions[0].ID, SessionCode: f.sessions[0].Code},
					},
				}
			},

			assert: func(t *testing.T, f fixture, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				l := out.publishedEvents[0].Leaderboard
				assert.Equal(t, "S1", l.SessionCode)
				require.Len(t, l.Entries, 1)
				assert.Equal(t, "Alice", l.Entries[0].DisplayName)
			},
		},

		"should publish 2 events leaderboard.updated for answers in 2 different sessions": {
			arrange: func(f fixture) inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerSubmitted{
						{SessionID: f.sessions[0].ID, SessionCode: f.sessions[0].Code},
						{SessionID: f.sessions[1].ID, SessionCode: f.sessions[1].Code},
					},
				}
			},

			assert: func(t *testing.T, f fixture, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},

		"should publish 1 event leaderboard.updated for answers in the same session within the publish interval": {
			arrange: func(f fixture) inputs {
				return inputs{
					receivedEvents: []domain.EventAnswerSubmitted{
						{SessionID: f.sessions[0].ID, SessionCode: f.sessions[0].Code, ParticipantID: "a"},
						{SessionID: f.sessions[0].ID, SessionCode: f.sessions[0].Code, ParticipantID: "b"},
					},
				}
			},

			assert: func(t *testing.T, f fixture, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := arrange(t)
			in, out := tt.arrange(f), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			event.On(eb, func(ctx context.Context, e domain.EventLeaderboardUpdated) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e)
				mu.Unlock()
				return nil
			})

			s := makeService(t, f.store, withEventBus(eb))

			for _, e := range in.receivedEvents {
				err := s.OnAnswerSubmitted(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, f, out)
		})
	}
}

type fixture struct {
	store    store.Store
	sessions []*domain.Session
}

func arrange(t *testing.T) fixture {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 1)

	f := fixture{store: s}
	for _, code := range []string{"S1", "S2"} {
		ss := storetest.Session(t, s, quiz, "teacher-1", code)
		storetest.Participant(t, s, &domain.Participant{SessionID: ss.ID, DisplayName: "Alice"})
		f.sessions = append(f.sessions, ss)
	}
	return f
}

func makeService(t *testing.T, s store.Reader, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		Store:    s,
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "gema",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
