package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePlayerName(t *testing.T) {
	name, err := ValidatePlayerName("  Ada Lovelace \t")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)

	for _, bad := range []string{"", " ", "\n\t"} {
		_, err := ValidatePlayerName(bad)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
		assert.True(t, errors.Is(err, ErrInvalidName))
		assert.True(t, IsInvalidArgument(err))
	}
}

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name     string
		playerID string
		score    int64
		want     error
	}{
		{name: "ok", playerID: "p1", score: 10},
		{name: "zero score", playerID: "p1", score: 0},
		{name: "blank id", playerID: " ", score: 10, want: ErrInvalidPlayerID},
		{name: "negative", playerID: "p1", score: -1, want: ErrInvalidScore},
		{name: "largest exact float", playerID: "p1", score: MaxScore},
		{name: "beyond float precision", playerID: "p1", score: MaxScore + 1, want: ErrInvalidScore},
		{name: "max int64", playerID: "p1", score: math.MaxInt64, want: ErrInvalidScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubmission(tt.playerID, tt.score)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want))
			assert.True(t, errors.Is(err, ErrInvalidArgument))
			assert.False(t, IsNotFoundError(err))
		})
	}
}

func TestDegradedView_SerializesEmptyLists(t *testing.T) {
	view := DegradedView(&Player{ID: "p1", CurrentScore: 77})

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"playerId": "p1",
		"playerRank": 0,
		"playerScore": 77,
		"topPlayers": [],
		"nearbyPlayers": [],
		"degraded": true
	}`, string(data))
}

func TestEvents(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	submitted := NewScoreSubmittedEvent(&LeaderboardView{PlayerID: "p1"}, at)
	assert.Equal(t, EventScoreSubmitted, submitted.Type)
	assert.Equal(t, at, submitted.Timestamp)

	reset := NewLeaderboardResetEvent(&ResetResult{ResetAt: at, Trigger: ResetTriggerScheduled})
	assert.Equal(t, EventLeaderboardReset, reset.Type)
	assert.Equal(t, at, reset.Timestamp)

	data, err := json.Marshal(reset)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trigger":"scheduled"`)
}
