package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/leaderboard"
	"github.com/victornm/gema/internal/session"
)

type (
	Session struct {
		ID                       string     `json:"id"`
		Code                     string     `json:"code"`
		QuizID                   string     `json:"quizId"`
		HostID                   string     `json:"hostId,omitempty"`
		Mode                     string     `json:"mode"`
		Status                   string     `json:"status"`
		Title                    *string    `json:"title"`
		Description              *string    `json:"description"`
		StartedAt                *time.Time `json:"startedAt"`
		FinishedAt               *time.Time `json:"finishedAt"`
		ScheduledStart           *time.Time `json:"scheduledStart"`
		ScheduledEnd             *time.Time `json:"scheduledEnd"`
		HomeworkWindowStart      *time.Time `json:"homeworkWindowStart"`
		HomeworkWindowEnd        *time.Time `json:"homeworkWindowEnd"`
		CurrentQuestionID        *string    `json:"currentQuestionId"`
		CurrentQuestionStartedAt *time.Time `json:"currentQuestionStartedAt"`
		CreatedAt                time.Time  `json:"createdAt"`
		UpdatedAt                time.Time  `json:"updatedAt"`
	}

	// SessionDetail is a session with the question in play and a summary of its quiz.
	SessionDetail struct {
		Session
		CurrentQuestion *Question   `json:"currentQuestion"`
		Quiz            QuizSummary `json:"quiz"`
	}

	SessionSummary struct {
		ID     string `json:"id"`
		Code   string `json:"code"`
		Status string `json:"status"`
		Mode   string `json:"mode"`
	}

	QuizSummary struct {
		ID              string `json:"id"`
		Title           string `json:"title"`
		Description     string `json:"description"`
		DefaultPoints   int    `json:"defaultPoints"`
		TimePerQuestion int    `json:"timePerQuestion"`
		QuestionCount   int    `json:"questionCount"`
	}

	Quiz struct {
		ID              string     `json:"id"`
		Title           string     `json:"title"`
		Description     string     `json:"description"`
		DefaultPoints   int        `json:"defaultPoints"`
		TimePerQuestion int        `json:"timePerQuestion"`
		Questions       []Question `json:"questions"`
	}

	// Question carries null correctAnswers and explanation when redacted.
	Question struct {
		ID             string   `json:"id"`
		QuizID         string   `json:"quizId"`
		Order          int      `json:"order"`
		Prompt         string   `json:"prompt"`
		Choices        []string `json:"choices"`
		CorrectAnswers []string `json:"correctAnswers"`
		Explanation    *string  `json:"explanation"`
		Points         *int     `json:"points"`
	}

	Participant struct {
		ID            string          `json:"id"`
		SessionID     string          `json:"sessionId"`
		DisplayName   string          `json:"displayName"`
		StudentID     *string         `json:"studentId"`
		JoinedAt      time.Time       `json:"joinedAt"`
		LastSeenAt    time.Time       `json:"lastSeenAt"`
		IsKicked      bool            `json:"isKicked"`
		Score         decimal.Decimal `json:"score"`
		Accuracy      decimal.Decimal `json:"accuracy"`
		ResponseCount int             `json:"responseCount"`
		AvatarColor   string          `json:"avatarColor"`
	}

	LeaderboardEntry struct {
		ID            string          `json:"id"`
		Rank          int             `json:"rank"`
		DisplayName   string          `json:"displayName"`
		Score         decimal.Decimal `json:"score"`
		Accuracy      decimal.Decimal `json:"accuracy"`
		ResponseCount int             `json:"responseCount"`
		JoinedAt      time.Time       `json:"joinedAt"`
		LastSeenAt    time.Time       `json:"lastSeenAt"`
		AvatarColor   string          `json:"avatarColor"`
	}

	Snapshot struct {
		Session         Session            `json:"session"`
		Quiz            Quiz               `json:"quiz"`
		Leaderboard     []LeaderboardEntry `json:"leaderboard"`
		CurrentQuestion *Question          `json:"currentQuestion"`
		IsHostView      bool               `json:"isHostView"`
	}

	SessionEvent struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		ActorID   string         `json:"actorId"`
		ActorName string         `json:"actorName"`
		Payload   map[string]any `json:"payload"`
		CreatedAt time.Time      `json:"createdAt"`
	}

	Student struct {
		ID            string `json:"id"`
		StudentNumber string `json:"studentNumber"`
		Name          string `json:"name"`
	}
)

func toSession(s domain.Session) Session {
	return Session{
		ID:                       s.ID,
		Code:                     s.Code,
		QuizID:                   s.QuizID,
		HostID:                   s.HostID,
		Mode:                     string(s.Mode),
		Status:                   string(s.Status),
		Title:                    s.Title,
		Description:              s.Description,
		StartedAt:                s.StartedAt,
		FinishedAt:               s.FinishedAt,
		ScheduledStart:           s.ScheduledStart,
		ScheduledEnd:             s.ScheduledEnd,
		HomeworkWindowStart:      s.HomeworkWindowStart,
		HomeworkWindowEnd:        s.HomeworkWindowEnd,
		CurrentQuestionID:        s.CurrentQuestionID,
		CurrentQuestionStartedAt: s.CurrentQuestionStartedAt,
		CreatedAt:                s.CreatedAt,
		UpdatedAt:                s.UpdatedAt,
	}
}

func toSessionDetail(st session.State) SessionDetail {
	d := SessionDetail{Session: toSession(*st.Session)}
	if st.CurrentQuestion != nil {
		q := toQuestion(*st.CurrentQuestion)
		d.CurrentQuestion = &q
	}
	if st.Quiz != nil {
		d.Quiz = QuizSummary{
			ID:              st.Quiz.ID,
			Title:           st.Quiz.Title,
			Description:     st.Quiz.Description,
			DefaultPoints:   st.Quiz.DefaultPoints,
			TimePerQuestion: st.Quiz.TimePerQuestion,
			QuestionCount:   len(st.Quiz.Questions),
		}
	}
	return d
}

func toSessionSummary(s domain.Session) SessionSummary {
	return SessionSummary{
		ID:     s.ID,
		Code:   s.Code,
		Status: string(s.Status),
		Mode:   string(s.Mode),
	}
}

func toQuiz(q domain.Quiz) Quiz {
	out := Quiz{
		ID:              q.ID,
		Title:           q.Title,
		Description:     q.Description,
		DefaultPoints:   q.DefaultPoints,
		TimePerQuestion: q.TimePerQuestion,
		Questions:       make([]Question, 0, len(q.Questions)),
	}
	for _, qq := range q.Questions {
		out.Questions = append(out.Questions, toQuestion(qq))
	}
	return out
}

func toQuestion(q domain.Question) Question {
	return Question{
		ID:             q.ID,
		QuizID:         q.QuizID,
		Order:          q.Order,
		Prompt:         q.Prompt,
		Choices:        q.Choices,
		CorrectAnswers: q.CorrectAnswers,
		Explanation:    q.Explanation,
		Points:         q.Points,
	}
}

func toParticipant(p domain.Participant) Participant {
	return Participant{
		ID:            p.ID,
		SessionID:     p.SessionID,
		DisplayName:   p.DisplayName,
		StudentID:     p.StudentID,
		JoinedAt:      p.JoinedAt,
		LastSeenAt:    p.LastSeenAt,
		IsKicked:      p.IsKicked,
		Score:         p.Score,
		Accuracy:      p.Accuracy,
		ResponseCount: p.ResponseCount,
		AvatarColor:   p.AvatarColor,
	}
}

func toLeaderboard(es []domain.LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(es))
	for _, e := range es {
		out = append(out, LeaderboardEntry{
			ID:            e.ParticipantID,
			Rank:          e.Rank,
			DisplayName:   e.DisplayName,
			Score:         e.Score,
			Accuracy:      e.Accuracy,
			ResponseCount: e.ResponseCount,
			JoinedAt:      e.JoinedAt,
			LastSeenAt:    e.LastSeenAt,
			AvatarColor:   e.AvatarColor,
		})
	}
	return out
}

func toSnapshot(s leaderboard.Snapshot) Snapshot {
	out := Snapshot{
		Session:     toSession(s.Session),
		Quiz:        toQuiz(s.Quiz),
		Leaderboard: toLeaderboard(s.Leaderboard),
		IsHostView:  s.IsHostView,
	}
	if s.CurrentQuestion != nil {
		q := toQuestion(*s.CurrentQuestion)
		out.CurrentQuestion = &q
	}
	return out
}

func toSessionEvent(e domain.SessionEvent) SessionEvent {
	return SessionEvent{
		ID:        e.ID,
		Type:      string(e.Type),
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}
