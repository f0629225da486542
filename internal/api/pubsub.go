package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victornm/gema/internal/domain"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	SessionChanged struct {
		Session Session      `json:"session"`
		Event   SessionEvent `json:"change"`
	}

	Leaderboard struct {
		SessionID string             `json:"sessionId"`
		Code      string             `json:"code"`
		Entries   []LeaderboardEntry `json:"entries"`
	}
)

// PublishSessionChanged relays a committed lifecycle change to the session's channel
// without the host id.
func (a *API) PublishSessionChanged(ctx context.Context, e domain.EventSessionChanged) error {
	ss := toSession(e.Session)
	ss.HostID = ""

	return a.publishNotification(ctx, e.Session.Code, e.Name(), SessionChanged{
		Session: ss,
		Event:   toSessionEvent(e.Event),
	})
}

// PublishLeaderboardUpdated relays a fresh ranking to the session's channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	return a.publishNotification(ctx, l.SessionCode, e.Name(), Leaderboard{
		SessionID: l.SessionID,
		Code:      l.SessionCode,
		Entries:   toLeaderboard(l.Entries),
	})
}

func (a *API) publishNotification(ctx context.Context, code, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, SessionChannel(a.prefix, code), b).Err()
}

// SessionChannel is the Redis channel carrying notifications of one session.
func SessionChannel(prefix, code string) string {
	return fmt.Sprintf("%s:session:%s", prefix, code)
}
