package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second

	// a peer that sends nothing, not even a pong, for this long is gone
	idleTimeout     = 60 * time.Second
	keepAlivePeriod = idleTimeout * 9 / 10

	// how long the peer has to answer our close frame
	closeGrace = time.Second

	// subscribers only ever send {"type":"ping"}
	maxInboundSize = 512

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one subscriber. Events flow from the hub to the peer; the peer
// may only send application pings. When the hub drops the client it closes
// done, and the stream goroutine starts the close handshake.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closing atomic.Bool
	logger  *slog.Logger
}

type clientMessage struct {
	Type string `json:"type"`
}

// serverMessage is a protocol reply that is not a leaderboard event
type serverMessage struct {
	Type      string    `json:"type"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With("client_id", id),
	}
}

// listen owns the read side. It returns when the peer disconnects, goes
// idle, or answers the close frame, and always releases the connection.
func (c *Client) listen() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.touch()
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.touch()
		c.handle(data)
	}
}

// touch pushes the idle deadline out, unless a close is under way
func (c *Client) touch() {
	if !c.closing.Load() {
		c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
}

func (c *Client) handle(data []byte) {
	var msg clientMessage
	switch err := json.Unmarshal(data, &msg); {
	case err != nil:
		c.reply(serverMessage{Type: MessageTypeError, Error: "invalid message format"})
	case msg.Type == MessageTypePing:
		c.reply(serverMessage{Type: MessageTypePong})
	default:
		c.reply(serverMessage{Type: MessageTypeError, Error: "unsupported message type"})
	}
}

// stream owns the write side: queued events, keepalive pings and, once done
// is closed, the close frame
func (c *Client) stream() {
	keepAlive := time.NewTicker(keepAlivePeriod)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.done:
			c.closeHandshake()
			return

		case data := <-c.send:
			// one event per frame so clients can decode each message directly
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}

		case <-keepAlive.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// closeHandshake sends a going-away close frame and gives the peer
// closeGrace to answer it. listen sees the answer, or the deadline, and
// tears the connection down.
func (c *Client) closeHandshake() {
	c.closing.Store(true)
	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "unsubscribed")
	if err := c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeTimeout)); err != nil {
		c.conn.Close()
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(closeGrace))
}

// reply queues a protocol message, dropping it if the peer is not reading
func (c *Client) reply(msg serverMessage) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ServeWs upgrades the request and subscribes the connection to the hub
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(hub, conn, logger)
	hub.Register(client)

	go client.stream()
	go client.listen()

	client.logger.Debug("new websocket subscriber")
}
