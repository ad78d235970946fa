package domain

import "time"

// Event types pushed to subscribers and the events topic
const (
	EventScoreSubmitted   = "score_submitted"
	EventLeaderboardReset = "leaderboard_reset"
)

// Event is the envelope for leaderboard change notifications
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewScoreSubmittedEvent wraps the view returned by a submission
func NewScoreSubmittedEvent(view *LeaderboardView, at time.Time) Event {
	return Event{Type: EventScoreSubmitted, Timestamp: at, Data: view}
}

// NewLeaderboardResetEvent wraps the outcome of a reset
func NewLeaderboardResetEvent(result *ResetResult) Event {
	return Event{Type: EventLeaderboardReset, Timestamp: result.ResetAt, Data: result}
}
