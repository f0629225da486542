// Package audit appends the immutable lifecycle trail of quiz sessions.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/victornm/gema/internal/domain"
)

// Writer is the store capability needed to append events; store.Tx satisfies it.
type Writer interface {
	InsertEvent(ctx context.Context, e *domain.SessionEvent) error
}

// Append inserts one event for the session. It runs inside the caller's transaction so the
// event commits together with the mutation it records.
func Append(ctx context.Context, w Writer, at time.Time, sessionID string, typ domain.SessionEventType, actor *domain.Identity, payload map[string]any) (*domain.SessionEvent, error) {
	e := &domain.SessionEvent{
		SessionID: sessionID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: at,
	}
	if actor != nil {
		e.ActorID = actor.ID
		e.ActorName = actor.Name
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}

	if err := w.InsertEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("audit: append %s: %w", typ, err)
	}
	return e, nil
}

func CreatedPayload(quizID string, mode domain.SessionMode) map[string]any {
	return map[string]any{"quizId": quizID, "mode": string(mode)}
}

// StartedPayload records the first question put in play; questionID is nil for an empty quiz.
func StartedPayload(questionID *string) map[string]any {
	var v any
	if questionID != nil {
		v = *questionID
	}
	return map[string]any{"questionId": v}
}

func QuestionAdvancedPayload(q domain.Question) map[string]any {
	return map[string]any{"questionId": q.ID, "order": q.Order}
}

const (
	FinishReasonLastQuestion = "last_question"
	FinishReasonHost         = "host"
)

func FinishedPayload(reason string) map[string]any {
	return map[string]any{"reason": reason}
}

func ParticipantKickedPayload(p domain.Participant) map[string]any {
	return map[string]any{"participantId": p.ID, "displayName": p.DisplayName}
}
