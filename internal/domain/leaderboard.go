package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Leaderboard is the ranked, public view of a session's participants.
type Leaderboard struct {
	SessionID   string
	SessionCode string
	Entries     []LeaderboardEntry
}

type LeaderboardEntry struct {
	ParticipantID string
	Rank          int
	DisplayName   string
	Score         decimal.Decimal
	Accuracy      decimal.Decimal
	ResponseCount int
	JoinedAt      time.Time
	LastSeenAt    time.Time
	AvatarColor   string
}
