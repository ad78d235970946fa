package domain

import (
	"time"
)

// ResetTrigger records what started a full score reset
type ResetTrigger string

const (
	ResetTriggerManual    ResetTrigger = "manual"
	ResetTriggerScheduled ResetTrigger = "scheduled"
)

// LeaderboardEntry represents a single ranked entry served from the rank cache.
// It is never persisted.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Score    int64  `json:"score"`
	Rank     int64  `json:"rank"`
}

// LeaderboardView is the response of submit and get. When Degraded is set the
// rank cache was unavailable: PlayerRank is 0 and both lists are empty, only
// PlayerScore can be trusted.
type LeaderboardView struct {
	PlayerID      string             `json:"playerId"`
	PlayerRank    int64              `json:"playerRank"`
	PlayerScore   int64              `json:"playerScore"`
	TopPlayers    []LeaderboardEntry `json:"topPlayers"`
	NearbyPlayers []LeaderboardEntry `json:"nearbyPlayers"`
	Degraded      bool               `json:"degraded"`
}

// DegradedView builds the view served when ranking is unavailable
func DegradedView(player *Player) *LeaderboardView {
	return &LeaderboardView{
		PlayerID:      player.ID,
		PlayerRank:    0,
		PlayerScore:   player.CurrentScore,
		TopPlayers:    []LeaderboardEntry{},
		NearbyPlayers: []LeaderboardEntry{},
		Degraded:      true,
	}
}

// ResetResult is the outcome of a full score reset
type ResetResult struct {
	PlayersAffected int64        `json:"playersAffected"`
	ResetAt         time.Time    `json:"resetAt"`
	Success         bool         `json:"success"`
	CacheCleared    bool         `json:"cacheCleared"`
	Trigger         ResetTrigger `json:"trigger"`
}

// LeaderboardStats contains counts from both stores
type LeaderboardStats struct {
	TotalPlayers   int64 `json:"totalPlayers"`
	CachedPlayers  int64 `json:"cachedPlayers"`
	CacheAvailable bool  `json:"cacheAvailable"`
}
