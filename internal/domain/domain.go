package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionMode string

const (
	ModeLive     SessionMode = "LIVE"
	ModeHomework SessionMode = "HOMEWORK"
)

func (m SessionMode) Valid() bool {
	return m == ModeLive || m == ModeHomework
}

type SessionStatus string

const (
	StatusDraft     SessionStatus = "DRAFT"
	StatusScheduled SessionStatus = "SCHEDULED"
	StatusActive    SessionStatus = "ACTIVE"
	StatusPaused    SessionStatus = "PAUSED"
	StatusCompleted SessionStatus = "COMPLETED"
)

// Joinable reports whether a LIVE session still accepts participants.
func (s SessionStatus) Joinable() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusActive, StatusPaused:
		return true
	default:
		return false
	}
}

// Quiz is a named, ordered question set.
type Quiz struct {
	ID              string
	Title           string
	Description     string
	DefaultPoints   int
	TimePerQuestion int // seconds, 0 means untimed
	Questions       []Question
	CreatedAt       time.Time
}

// Question is one quiz question. CorrectAnswers and Explanation are answer-key fields.
type Question struct {
	ID             string
	QuizID         string
	Order          int
	Prompt         string
	Choices        []string
	CorrectAnswers []string
	Explanation    *string
	Points         *int
}

// PointsIn returns the points awarded for a correct answer within quiz q.
func (qq Question) PointsIn(q Quiz) int {
	if qq.Points != nil {
		return *qq.Points
	}
	return q.DefaultPoints
}

// Session is one instantiation of a quiz, addressed externally by Code.
type Session struct {
	ID          string
	Code        string
	QuizID      string
	HostID      string
	Mode        SessionMode
	Status      SessionStatus
	Title       *string
	Description *string

	StartedAt           *time.Time
	FinishedAt          *time.Time
	ScheduledStart      *time.Time
	ScheduledEnd        *time.Time
	HomeworkWindowStart *time.Time
	HomeworkWindowEnd   *time.Time

	CurrentQuestionID        *string
	CurrentQuestionStartedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClearCurrentQuestion resets the in-play question.
func (s *Session) ClearCurrentQuestion() {
	s.CurrentQuestionID = nil
	s.CurrentQuestionStartedAt = nil
}

// SetCurrentQuestion puts q in play from now on.
func (s *Session) SetCurrentQuestion(q *Question, now time.Time) {
	if q == nil {
		s.ClearCurrentQuestion()
		return
	}
	id := q.ID
	s.CurrentQuestionID = &id
	s.CurrentQuestionStartedAt = &now
}

// Participant is a membership of one display name in one session.
type Participant struct {
	ID            string
	SessionID     string
	DisplayName   string
	StudentID     *string
	JoinedAt      time.Time
	LastSeenAt    time.Time
	IsKicked      bool
	Score         decimal.Decimal
	Accuracy      decimal.Decimal
	ResponseCount int
	AvatarColor   string
	Metadata      map[string]any
}

// Response is a participant's answer to one question.
type Response struct {
	ID            string
	SessionID     string
	ParticipantID string
	QuestionID    string
	Answers       []string
	IsCorrect     bool
	Points        decimal.Decimal
	CreatedAt     time.Time
}

// Student is a known student account a participant may be linked to.
type Student struct {
	ID            string
	StudentNumber string
	Name          string
}
