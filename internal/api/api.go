package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/identity"
	"github.com/victornm/gema/internal/leaderboard"
	"github.com/victornm/gema/internal/participant"
	"github.com/victornm/gema/internal/quiz"
	"github.com/victornm/gema/internal/score"
	"github.com/victornm/gema/internal/session"
)

type Config struct {
	Router      gin.IRouter
	EventBus    *event.Bus
	Identity    *identity.Resolver
	Quiz        *quiz.Service
	Session     *session.Service
	Participant *participant.Service
	Score       *score.Service
	Leaderboard *leaderboard.Service
	// Redis is optional. When set, session and leaderboard changes are relayed to it.
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qs  *quiz.Service
	qss *session.Service
	ps  *participant.Service
	ss  *score.Service
	ls  *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		qs:     c.Quiz,
		qss:    c.Session,
		ps:     c.Participant,
		ss:     c.Score,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// HTTP APIs
	g := c.Router.Group("/api", NoStore(), Authenticate(c.Identity))
	g.POST("/quizzes", a.CreateQuiz)
	g.POST("/students", a.RegisterStudent)
	g.POST("/sessions", a.CreateSession)
	g.GET("/sessions/:code", a.GetSession)
	g.POST("/sessions/:code/start", a.StartSession)
	g.POST("/sessions/:code/next", a.AdvanceSession)
	g.POST("/sessions/:code/finish", a.FinishSession)
	g.POST("/sessions/:code/join", a.JoinSession)
	g.POST("/sessions/:code/answers", a.SubmitAnswer)
	g.POST("/sessions/:code/participants/:id/kick", a.KickParticipant)
	g.GET("/sessions/:code/events", a.ListEvents)

	// Register event handlers
	if a.redis != nil && c.EventBus != nil {
		event.On(c.EventBus, a.PublishSessionChanged)
		event.On(c.EventBus, a.PublishLeaderboardUpdated)
	}

	return a
}

type CreateQuizRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	DefaultPoints   *int   `json:"defaultPoints"`
	TimePerQuestion int    `json:"timePerQuestion"`
	Questions       []struct {
		Prompt         string   `json:"prompt"`
		Choices        []string `json:"choices"`
		CorrectAnswers []string `json:"correctAnswers"`
		Explanation    *string  `json:"explanation"`
		Points         *int     `json:"points"`
	} `json:"questions"`
}

func (a *API) CreateQuiz(c *gin.Context) {
	var req CreateQuizRequest
	if !bind(c, &req) {
		return
	}

	in := quiz.CreateQuizRequest{
		Caller:          caller(c),
		Title:           req.Title,
		Description:     req.Description,
		DefaultPoints:   req.DefaultPoints,
		TimePerQuestion: req.TimePerQuestion,
	}
	for _, q := range req.Questions {
		in.Questions = append(in.Questions, quiz.QuestionInput{
			Prompt:         q.Prompt,
			Choices:        q.Choices,
			CorrectAnswers: q.CorrectAnswers,
			Explanation:    q.Explanation,
			Points:         q.Points,
		})
	}

	q, err := a.qs.CreateQuiz(c.Request.Context(), in)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"quiz": toQuiz(*q)})
}

type RegisterStudentRequest struct {
	StudentNumber string `json:"studentNumber"`
	Name          string `json:"name"`
}

func (a *API) RegisterStudent(c *gin.Context) {
	var req RegisterStudentRequest
	if !bind(c, &req) {
		return
	}

	st, err := a.ps.RegisterStudent(c.Request.Context(), participant.RegisterStudentRequest{
		Caller:        caller(c),
		StudentNumber: req.StudentNumber,
		Name:          req.Name,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"student": Student{ID: st.ID, StudentNumber: st.StudentNumber, Name: st.Name}})
}

type CreateSessionRequest struct {
	QuizID              string     `json:"quizId"`
	Mode                string     `json:"mode"`
	Title               *string    `json:"title"`
	Description         *string    `json:"description"`
	ScheduledStart      *time.Time `json:"scheduledStart"`
	ScheduledEnd        *time.Time `json:"scheduledEnd"`
	HomeworkWindowStart *time.Time `json:"homeworkWindowStart"`
	HomeworkWindowEnd   *time.Time `json:"homeworkWindowEnd"`
}

func (a *API) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if !bind(c, &req) {
		return
	}

	st, err := a.qss.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		Caller:              caller(c),
		QuizID:              req.QuizID,
		Mode:                domain.SessionMode(req.Mode),
		Title:               req.Title,
		Description:         req.Description,
		ScheduledStart:      req.ScheduledStart,
		ScheduledEnd:        req.ScheduledEnd,
		HomeworkWindowStart: req.HomeworkWindowStart,
		HomeworkWindowEnd:   req.HomeworkWindowEnd,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": toSessionDetail(*st)})
}

func (a *API) StartSession(c *gin.Context) {
	st, err := a.qss.Start(c.Request.Context(), session.StartRequest{
		Code:   c.Param("code"),
		Caller: caller(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": toSessionDetail(*st)})
}

func (a *API) AdvanceSession(c *gin.Context) {
	resp, err := a.qss.Advance(c.Request.Context(), session.AdvanceRequest{
		Code:   c.Param("code"),
		Caller: caller(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":          toSessionDetail(resp.State),
		"hasMoreQuestions": resp.HasMoreQuestions,
	})
}

func (a *API) FinishSession(c *gin.Context) {
	st, err := a.qss.Finish(c.Request.Context(), session.FinishRequest{
		Code:   c.Param("code"),
		Caller: caller(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": toSessionDetail(*st)})
}

type JoinSessionRequest struct {
	DisplayName string `json:"displayName"`
	StudentRef  string `json:"studentRef"`
}

func (a *API) JoinSession(c *gin.Context) {
	var req JoinSessionRequest
	if !bind(c, &req) {
		return
	}

	resp, err := a.ps.Join(c.Request.Context(), participant.JoinRequest{
		Code:        c.Param("code"),
		DisplayName: req.DisplayName,
		StudentRef:  req.StudentRef,
		Caller:      caller(c),
		Origin: participant.Origin{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	})
	if err != nil {
		renderError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Rejoined {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"participant": toParticipant(*resp.Participant),
		"session":     toSessionSummary(*resp.Session),
	})
}

type SubmitAnswerRequest struct {
	ParticipantID string   `json:"participantId"`
	QuestionID    string   `json:"questionId"`
	Answers       []string `json:"answers"`
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if !bind(c, &req) {
		return
	}

	resp, err := a.ss.SubmitAnswer(c.Request.Context(), score.SubmitAnswerRequest{
		Code:          c.Param("code"),
		ParticipantID: req.ParticipantID,
		QuestionID:    req.QuestionID,
		Answers:       req.Answers,
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"correct":       resp.Correct,
		"points":        resp.Points,
		"totalScore":    resp.TotalScore,
		"accuracy":      resp.Accuracy,
		"responseCount": resp.ResponseCount,
	})
}

func (a *API) KickParticipant(c *gin.Context) {
	p, err := a.ps.Kick(c.Request.Context(), participant.KickRequest{
		Code:          c.Param("code"),
		ParticipantID: c.Param("id"),
		Caller:        caller(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"participant": toParticipant(*p)})
}

func (a *API) GetSession(c *gin.Context) {
	snap, err := a.ls.GetSnapshot(c.Request.Context(), leaderboard.GetSnapshotRequest{
		Code:   c.Param("code"),
		Caller: caller(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSnapshot(*snap))
}

func (a *API) ListEvents(c *gin.Context) {
	es, err := a.qss.Events(c.Request.Context(), session.StartRequest{
		Code:   c.Param("code"),
		Caller: caller(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	out := make([]SessionEvent, 0, len(es))
	for _, e := range es {
		out = append(out, toSessionEvent(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body: %v", err),
			errors.WithCause(err),
		))
		return false
	}
	return true
}
