package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/leaderboard-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, hub *Hub, srv *httptest.Server, wantConns int) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ConnectionCount() == wantConns },
		2*time.Second, 10*time.Millisecond)
	return conn
}

type received struct {
	Type      string          `json:"type"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func readMessage(t *testing.T, conn *gorillaws.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, hub, srv, 1)
	b := dial(t, hub, srv, 2)

	view := &domain.LeaderboardView{
		PlayerID:      "p1",
		PlayerRank:    1,
		PlayerScore:   300,
		TopPlayers:    []domain.LeaderboardEntry{{PlayerID: "p1", Score: 300, Rank: 1}},
		NearbyPlayers: []domain.LeaderboardEntry{{PlayerID: "p1", Score: 300, Rank: 1}},
	}
	require.NoError(t, hub.ScoreSubmitted(context.Background(), view))

	for _, conn := range []*gorillaws.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, domain.EventScoreSubmitted, msg.Type)

		var got domain.LeaderboardView
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, *view, got)
	}
}

func TestHub_ResetEvent(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	at := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, hub.LeaderboardReset(context.Background(), &domain.ResetResult{
		PlayersAffected: 3,
		ResetAt:         at,
		Success:         true,
		Trigger:         domain.ResetTriggerManual,
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, domain.EventLeaderboardReset, msg.Type)
	assert.True(t, msg.Timestamp.Equal(at))

	var got domain.ResetResult
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, int64(3), got.PlayersAffected)
}

func TestClient_PingPong(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`not json`)))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.NotEmpty(t, msg.Error)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestClient_PeerCloseUnsubscribes(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, hub, srv, 1)

	require.NoError(t, hub.LeaderboardReset(context.Background(), &domain.ResetResult{Trigger: domain.ResetTriggerManual}))
	assert.Equal(t, domain.EventLeaderboardReset, readMessage(t, conn).Type)

	// the peer leaves first; the server side winds down without a close frame
	require.NoError(t, conn.WriteControl(gorillaws.CloseMessage,
		gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
