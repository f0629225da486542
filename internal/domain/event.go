package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionEventType string

// Audit event types. Known payload keys per type:
//
//	CREATED            {quizId, mode}
//	STARTED            {questionId}
//	QUESTION_ADVANCED  {questionId, order}
//	FINISHED           {reason}
//	PARTICIPANT_KICKED {participantId, displayName}
const (
	SessionEventCreated           SessionEventType = "CREATED"
	SessionEventStarted           SessionEventType = "STARTED"
	SessionEventQuestionAdvanced  SessionEventType = "QUESTION_ADVANCED"
	SessionEventFinished          SessionEventType = "FINISHED"
	SessionEventParticipantKicked SessionEventType = "PARTICIPANT_KICKED"
)

// SessionEvent is an immutable audit record of a session.
type SessionEvent struct {
	ID        string
	SessionID string
	Type      SessionEventType
	ActorID   string
	ActorName string
	Payload   map[string]any
	CreatedAt time.Time
}

const (
	EventNameSessionChanged = "session.changed"
)

// EventSessionChanged is published on the in-process bus after a session mutation is committed.
type EventSessionChanged struct {
	Session Session
	Event   SessionEvent
}

func (EventSessionChanged) Name() string { return EventNameSessionChanged }

const EventNameAnswerSubmitted = "answer.submitted"

// EventAnswerSubmitted is published after a participant response is recorded.
type EventAnswerSubmitted struct {
	SessionID     string
	SessionCode   string
	ParticipantID string
	QuestionID    string
	Correct       bool
	Points        decimal.Decimal
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

const EventNameLeaderboardUpdated = "leaderboard.updated"

// EventLeaderboardUpdated carries a fresh ranking, published at most once per throttle interval.
type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
