package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/session"
	"github.com/victornm/gema/internal/store"
	"github.com/victornm/gema/internal/store/storetest"
)

var (
	host     = &domain.Identity{ID: "teacher-1", Name: "Bu Sari", Role: domain.RoleTeacher}
	intruder = &domain.Identity{ID: "teacher-2", Name: "Pak Joko", Role: domain.RoleTeacher}
	student  = &domain.Identity{ID: "student-1", Name: "Alice", Role: domain.RoleStudent}
)

func TestService_Start(t *testing.T) {
	type fixture struct {
		store store.Store
		quiz  *domain.Quiz
		code  string
	}

	tests := map[string]struct {
		questions int
		mutate    func(*domain.Session)
		caller    *domain.Identity
		code      string
		wantCode  errors.Code
		assert    func(t *testing.T, f fixture, st *session.State)
	}{
		"draft session becomes active on its first question": {
			questions: 3,
			caller:    host,
			assert: func(t *testing.T, f fixture, st *session.State) {
				assert.Equal(t, domain.StatusActive, st.Session.Status)
				require.NotNil(t, st.Session.StartedAt)
				require.NotNil(t, st.CurrentQuestion)
				assert.Equal(t, 0, st.CurrentQuestion.Order)
				assert.Equal(t, f.quiz.Questions[0].ID, *st.Session.CurrentQuestionID)
				assert.NotNil(t, st.Session.CurrentQuestionStartedAt)
				assert.Equal(t, f.quiz.ID, st.Quiz.ID)

				es := storetest.Events(t, f.store, st.Session.ID)
				require.Len(t, es, 1)
				assert.Equal(t, domain.SessionEventStarted, es[0].Type)
				assert.Equal(t, f.quiz.Questions[0].ID, es[0].Payload["questionId"])
				assert.Equal(t, host.ID, es[0].ActorID)
			},
		},

		"scheduled session can be started": {
			questions: 1,
			mutate:    func(s *domain.Session) { s.Status = domain.StatusScheduled },
			caller:    host,
			assert: func(t *testing.T, f fixture, st *session.State) {
				assert.Equal(t, domain.StatusActive, st.Session.Status)
			},
		},

		"quiz without questions starts with no current question": {
			questions: 0,
			caller:    host,
			assert: func(t *testing.T, f fixture, st *session.State) {
				assert.Equal(t, domain.StatusActive, st.Session.Status)
				assert.Nil(t, st.Session.CurrentQuestionID)
				assert.Nil(t, st.Session.CurrentQuestionStartedAt)
				assert.Nil(t, st.CurrentQuestion)

				es := storetest.Events(t, f.store, st.Session.ID)
				require.Len(t, es, 1)
				assert.Nil(t, es[0].Payload["questionId"])
			},
		},

		"lowercase code resolves to the uppercase session": {
			questions: 1,
			caller:    host,
			code:      "  quiz01 ",
			assert: func(t *testing.T, f fixture, st *session.State) {
				assert.Equal(t, "QUIZ01", st.Session.Code)
			},
		},

		"completed session cannot be started": {
			questions: 1,
			mutate:    func(s *domain.Session) { s.Status = domain.StatusCompleted },
			caller:    host,
			wantCode:  errors.CodeFailedPrecondition,
		},

		"anonymous caller is unauthorized": {
			questions: 1,
			wantCode:  errors.CodeUnauthenticated,
		},

		"student caller is unauthorized": {
			questions: 1,
			caller:    student,
			wantCode:  errors.CodeUnauthenticated,
		},

		"another teacher gets not found": {
			questions: 1,
			caller:    intruder,
			wantCode:  errors.CodeNotFound,
		},

		"unknown code is not found": {
			questions: 1,
			caller:    host,
			code:      "NOPE99",
			wantCode:  errors.CodeNotFound,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := fixture{store: storetest.New(t), code: "QUIZ01"}
			f.quiz = storetest.Quiz(t, f.store, tt.questions)
			var mutate []func(*domain.Session)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			before := storetest.Session(t, f.store, f.quiz, host.ID, f.code, mutate...)

			code := tt.code
			if code == "" {
				code = f.code
			}

			st, err := makeService(t, f.store).Start(context.Background(), session.StartRequest{Code: code, Caller: tt.caller})
			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.Convert(err).Code)

				after := storetest.Reload(t, f.store, f.code)
				assert.Equal(t, before.Status, after.Status, "failed start must not mutate the session")
				assert.Empty(t, storetest.Events(t, f.store, before.ID), "failed start must not append events")
				return
			}

			require.NoError(t, err)
			tt.assert(t, f, st)
		})
	}
}

func TestService_Start_IsIdempotent(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 2)
	storetest.Session(t, s, quiz, host.ID, "QUIZ01")
	svc := makeService(t, s)

	first, err := svc.Start(context.Background(), session.StartRequest{Code: "QUIZ01", Caller: host})
	require.NoError(t, err)

	second, err := svc.Start(context.Background(), session.StartRequest{Code: "QUIZ01", Caller: host})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, second.Session.Status)
	assert.True(t, first.Session.StartedAt.Equal(*second.Session.StartedAt), "startedAt must not move")
	assert.Equal(t, *first.Session.CurrentQuestionID, *second.Session.CurrentQuestionID)
	assert.True(t, first.Session.CurrentQuestionStartedAt.Equal(*second.Session.CurrentQuestionStartedAt))
	assert.Len(t, storetest.Events(t, s, first.Session.ID), 1, "no event for a no-op start")
}

func TestService_Advance_VisitsQuestionsInOrder(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 3)
	ss := storetest.Session(t, s, quiz, host.ID, "QUIZ01", func(s *domain.Session) {
		s.Status = domain.StatusActive
	})
	svc := makeService(t, s)
	advance := func() (*session.AdvanceResponse, error) {
		return svc.Advance(context.Background(), session.AdvanceRequest{Code: "QUIZ01", Caller: host})
	}

	for order := 0; order < 3; order++ {
		resp, err := advance()
		require.NoError(t, err)
		assert.True(t, resp.HasMoreQuestions)
		require.NotNil(t, resp.CurrentQuestion)
		assert.Equal(t, order, resp.CurrentQuestion.Order)
		assert.Equal(t, domain.StatusActive, resp.Session.Status)
	}

	resp, err := advance()
	require.NoError(t, err)
	assert.False(t, resp.HasMoreQuestions)
	assert.Equal(t, domain.StatusCompleted, resp.Session.Status)
	assert.NotNil(t, resp.Session.FinishedAt)
	assert.Nil(t, resp.Session.CurrentQuestionID)
	assert.Nil(t, resp.Session.CurrentQuestionStartedAt)
	assert.Nil(t, resp.CurrentQuestion)

	_, err = advance()
	require.Error(t, err)
	assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)

	es := storetest.Events(t, s, ss.ID)
	require.Len(t, es, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.SessionEventQuestionAdvanced, es[i].Type)
		assert.EqualValues(t, i, es[i].Payload["order"])
		assert.Equal(t, quiz.Questions[i].ID, es[i].Payload["questionId"])
	}
	assert.Equal(t, domain.SessionEventFinished, es[3].Type)
}

func TestService_Advance_FromStart(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 3)
	storetest.Session(t, s, quiz, host.ID, "QUIZ01")
	svc := makeService(t, s)
	req := session.AdvanceRequest{Code: "QUIZ01", Caller: host}

	st, err := svc.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentQuestion.Order)

	resp, err := svc.Advance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.CurrentQuestion.Order)

	resp, err = svc.Advance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.CurrentQuestion.Order)
	assert.True(t, resp.HasMoreQuestions)

	resp, err = svc.Advance(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.HasMoreQuestions)
	assert.Equal(t, domain.StatusCompleted, resp.Session.Status)
}

func TestService_Advance_SkipsOrderGaps(t *testing.T) {
	s := storetest.New(t)
	quiz := &domain.Quiz{Title: "Gaps", DefaultPoints: 10, CreatedAt: time.Now().UTC(), Questions: []domain.Question{
		{Order: 0, Prompt: "first"}, {Order: 5, Prompt: "second"}, {Order: 9, Prompt: "third"},
	}}
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertQuiz(ctx, quiz)
	}))
	storetest.Session(t, s, quiz, host.ID, "QUIZ01")
	svc := makeService(t, s)
	req := session.AdvanceRequest{Code: "QUIZ01", Caller: host}

	_, err := svc.Start(context.Background(), req)
	require.NoError(t, err)

	resp, err := svc.Advance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.CurrentQuestion.Prompt)

	resp, err = svc.Advance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "third", resp.CurrentQuestion.Prompt)
}

func TestService_Advance_Rejections(t *testing.T) {
	tests := map[string]struct {
		status   domain.SessionStatus
		caller   *domain.Identity
		wantCode errors.Code
	}{
		"draft session":     {status: domain.StatusDraft, caller: host, wantCode: errors.CodeFailedPrecondition},
		"scheduled session": {status: domain.StatusScheduled, caller: host, wantCode: errors.CodeFailedPrecondition},
		"paused session":    {status: domain.StatusPaused, caller: host, wantCode: errors.CodeFailedPrecondition},
		"completed session": {status: domain.StatusCompleted, caller: host, wantCode: errors.CodeFailedPrecondition},
		"not the host":      {status: domain.StatusActive, caller: intruder, wantCode: errors.CodeNotFound},
		"anonymous":         {status: domain.StatusActive, caller: nil, wantCode: errors.CodeUnauthenticated},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := storetest.New(t)
			quiz := storetest.Quiz(t, s, 2)
			ss := storetest.Session(t, s, quiz, host.ID, "QUIZ01", func(s *domain.Session) {
				s.Status = tt.status
			})

			_, err := makeService(t, s).Advance(context.Background(), session.AdvanceRequest{Code: "QUIZ01", Caller: tt.caller})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code)

			after := storetest.Reload(t, s, "QUIZ01")
			assert.Equal(t, tt.status, after.Status)
			assert.Nil(t, after.CurrentQuestionID)
			assert.Empty(t, storetest.Events(t, s, ss.ID))
		})
	}
}

// Concurrent advances must each observe the previous one: every question is visited once
// and the session completes exactly once.
func TestService_Advance_ConcurrentCallsAreSerialized(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 5)
	ss := storetest.Session(t, s, quiz, host.ID, "QUIZ01")
	svc := makeService(t, s)
	req := session.AdvanceRequest{Code: "QUIZ01", Caller: host}

	_, err := svc.Start(context.Background(), req)
	require.NoError(t, err)

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
		finished int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := svc.Advance(context.Background(), req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
				rejected++
			case resp.HasMoreQuestions:
				advanced++
			default:
				finished++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, advanced)
	assert.Equal(t, 1, finished)
	assert.Equal(t, callers-5, rejected)

	es := storetest.Events(t, s, ss.ID)
	seen := map[float64]bool{}
	for _, e := range es {
		if e.Type != domain.SessionEventQuestionAdvanced {
			continue
		}
		order := e.Payload["order"].(float64)
		assert.False(t, seen[order], "question %v advanced to twice", order)
		seen[order] = true
	}
	assert.Len(t, seen, 4)
}

func TestService_Finish(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 2)
	ss := storetest.Session(t, s, quiz, host.ID, "QUIZ01")
	svc := makeService(t, s)
	req := session.FinishRequest{Code: "QUIZ01", Caller: host}

	_, err := svc.Start(context.Background(), req)
	require.NoError(t, err)

	st, err := svc.Finish(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, st.Session.Status)
	require.NotNil(t, st.Session.FinishedAt)
	assert.Nil(t, st.Session.CurrentQuestionID)
	assert.Nil(t, st.CurrentQuestion)
	finishedAt := *st.Session.FinishedAt

	again, err := svc.Finish(context.Background(), req)
	require.NoError(t, err, "finishing twice is a no-op")
	assert.True(t, finishedAt.Equal(*again.Session.FinishedAt))

	es := storetest.Events(t, s, ss.ID)
	require.Len(t, es, 2)
	assert.Equal(t, domain.SessionEventFinished, es[1].Type)
	assert.Equal(t, "host", es[1].Payload["reason"])

	_, err = svc.Start(context.Background(), req)
	assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code, "completed is terminal")

	_, err = svc.Finish(context.Background(), session.FinishRequest{Code: "QUIZ01", Caller: intruder})
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestService_FinishDraft(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 2)
	storetest.Session(t, s, quiz, host.ID, "QUIZ01")

	st, err := makeService(t, s).Finish(context.Background(), session.FinishRequest{Code: "QUIZ01", Caller: host})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, st.Session.Status)
	assert.Nil(t, st.Session.StartedAt)
}

func TestService_CreateSession(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 2)

	codes := []string{"TAKEN1", "TAKEN1", "FRESH2"}
	var mu sync.Mutex
	svc := session.NewService(session.Config{
		Store: s,
		Now:   newClock().Now,
		NewCode: func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			c := codes[0]
			codes = codes[1:]
			return c, nil
		},
	})

	first, err := svc.CreateSession(context.Background(), session.CreateSessionRequest{Caller: host, QuizID: quiz.ID})
	require.NoError(t, err)
	assert.Equal(t, "TAKEN1", first.Session.Code)
	assert.Equal(t, domain.StatusDraft, first.Session.Status)
	assert.Equal(t, domain.ModeLive, first.Session.Mode)
	assert.Equal(t, host.ID, first.Session.HostID)

	start := time.Now().Add(time.Hour)
	second, err := svc.CreateSession(context.Background(), session.CreateSessionRequest{
		Caller: host, QuizID: quiz.ID, ScheduledStart: &start,
	})
	require.NoError(t, err, "a code collision is retried")
	assert.Equal(t, "FRESH2", second.Session.Code)
	assert.Equal(t, domain.StatusScheduled, second.Session.Status)

	es := storetest.Events(t, s, second.Session.ID)
	require.Len(t, es, 1)
	assert.Equal(t, domain.SessionEventCreated, es[0].Type)
}

func TestService_CreateSession_Rejections(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 1)
	svc := makeService(t, s)

	from := time.Now()
	until := from.Add(-time.Hour)

	tests := map[string]struct {
		req      session.CreateSessionRequest
		wantCode errors.Code
	}{
		"student":      {req: session.CreateSessionRequest{Caller: student, QuizID: quiz.ID}, wantCode: errors.CodeUnauthenticated},
		"unknown quiz": {req: session.CreateSessionRequest{Caller: host, QuizID: "nope"}, wantCode: errors.CodeNotFound},
		"bad mode":     {req: session.CreateSessionRequest{Caller: host, QuizID: quiz.ID, Mode: "SOLO"}, wantCode: errors.CodeInvalidArgument},
		"inverted homework window": {
			req: session.CreateSessionRequest{
				Caller: host, QuizID: quiz.ID, Mode: domain.ModeHomework,
				HomeworkWindowStart: &from, HomeworkWindowEnd: &until,
			},
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSession(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Convert(err).Code)
		})
	}
}

func TestService_Events(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 1)
	storetest.Session(t, s, quiz, host.ID, "QUIZ01")
	svc := makeService(t, s)

	_, err := svc.Start(context.Background(), session.StartRequest{Code: "QUIZ01", Caller: host})
	require.NoError(t, err)

	es, err := svc.Events(context.Background(), session.StartRequest{Code: "quiz01", Caller: host})
	require.NoError(t, err)
	require.Len(t, es, 1)

	_, err = svc.Events(context.Background(), session.StartRequest{Code: "QUIZ01", Caller: intruder})
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestService_PublishesCommittedChanges(t *testing.T) {
	s := storetest.New(t)
	quiz := storetest.Quiz(t, s, 1)
	storetest.Session(t, s, quiz, host.ID, "QUIZ01")

	eb := event.NewBus()
	var (
		mu  sync.Mutex
		got []domain.EventSessionChanged
	)
	event.On(eb, func(ctx context.Context, e domain.EventSessionChanged) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})

	svc := session.NewService(session.Config{Store: s, EventBus: eb, Now: newClock().Now})
	req := session.StartRequest{Code: "QUIZ01", Caller: host}

	_, err := svc.Start(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Advance(context.Background(), req)
	require.NoError(t, err)
	eb.Stop()

	require.Len(t, got, 2, "no-op start publishes nothing")
	types := []domain.SessionEventType{got[0].Event.Type, got[1].Event.Type}
	assert.ElementsMatch(t, []domain.SessionEventType{domain.SessionEventStarted, domain.SessionEventFinished}, types)
}

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := session.NewCode()
		require.NoError(t, err)
		assert.Len(t, c, 6)
		assert.Equal(t, session.NormalizeCode(c), c)
		assert.NotContains(t, c, "O")
		assert.NotContains(t, c, "0")
		seen[c] = true
	}
	assert.Greater(t, len(seen), 45)
}

func makeService(t *testing.T, s store.Store) *session.Service {
	t.Helper()

	return session.NewService(session.Config{
		Store: s,
		Now:   newClock().Now,
	})
}

// clock advances one second per reading so successive transitions get distinct times.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}
