package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leaderboard-sync/internal/domain"
)

// Message types for the client protocol
const (
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeError = "error"
)

// ErrBroadcastFull is returned when an event is dropped because the hub is
// not keeping up
var ErrBroadcastFull = errors.New("broadcast channel full")

// Hub fans leaderboard events out to every connected client
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan domain.Event

	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan domain.Event, 256),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.done)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.done)
	}
}

func (h *Hub) fanOut(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// slow client, drop rather than block the hub
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// Publish queues an event for every connected client
func (h *Hub) Publish(event domain.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// ScoreSubmitted pushes a score_submitted event
func (h *Hub) ScoreSubmitted(ctx context.Context, view *domain.LeaderboardView) error {
	return h.Publish(domain.NewScoreSubmittedEvent(view, h.now()))
}

// LeaderboardReset pushes a leaderboard_reset event
func (h *Hub) LeaderboardReset(ctx context.Context, result *domain.ResetResult) error {
	return h.Publish(domain.NewLeaderboardResetEvent(result))
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ConnectionCount returns the number of connected clients
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
