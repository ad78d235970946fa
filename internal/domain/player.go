package domain

import (
	"strings"
	"time"
)

// Player represents a player in the system of record
type Player struct {
	ID            string    `json:"playerId"`
	Name          string    `json:"name"`
	CurrentScore  int64     `json:"currentScore"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// ScoreSubmission is an immutable audit record of one submitted score
type ScoreSubmission struct {
	ID          string    `json:"submissionId"`
	PlayerID    string    `json:"playerId"`
	Score       int64     `json:"score"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// PlayerScore is the (player, score) pair loaded into the rank cache
type PlayerScore struct {
	PlayerID string
	Score    int64
}

// CreatePlayerRequest is the body of POST /api/players
type CreatePlayerRequest struct {
	Name string `json:"name"`
}

// SubmitScoreRequest is the body of POST /api/submit
type SubmitScoreRequest struct {
	PlayerID string `json:"playerId"`
	Score    int64  `json:"score"`
}

// ValidatePlayerName trims the name and rejects it when empty
func ValidatePlayerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid(ErrInvalidName)
	}
	return name, nil
}

// ValidatePlayerID rejects blank player ids
func ValidatePlayerID(playerID string) error {
	if strings.TrimSpace(playerID) == "" {
		return invalid(ErrInvalidPlayerID)
	}
	return nil
}

// MaxScore is the largest score the rank cache holds exactly; sorted set
// scores are float64
const MaxScore int64 = 1 << 53

// ValidateSubmission checks a score submission before any store access
func ValidateSubmission(playerID string, score int64) error {
	if err := ValidatePlayerID(playerID); err != nil {
		return err
	}
	if score < 0 || score > MaxScore {
		return invalid(ErrInvalidScore)
	}
	return nil
}
