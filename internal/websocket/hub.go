package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/usecase"
)

var (
	// ErrSendQueueFull is returned by Client.Send when the outbound queue is full
	ErrSendQueueFull = errors.New("send queue full")
	// ErrClientClosed is returned by Client.Send after the connection is gone
	ErrClientClosed = errors.New("client closed")
)

// SessionHandler receives the lifecycle and frames of every connection
type SessionHandler interface {
	OnConnect(sink usecase.Sink) (string, error)
	OnBinaryMessage(sessionID string, data []byte) error
	OnTextMessage(sessionID string, data []byte) error
	OnDisconnect(sessionID string)
}

// Options tunes the websocket transport
type Options struct {
	// Maximum message size allowed from peer.
	ReadLimit int64
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Outbound frames buffered per connection.
	SendQueueSize int
	// Empty allows every origin.
	AllowedOrigins []string
}

// DefaultOptions returns the transport defaults
func DefaultOptions() Options {
	pongWait := 60 * time.Second
	return Options{
		ReadLimit:     1 << 20, // 1MB of PCM per frame
		PongWait:      pongWait,
		PingPeriod:    (pongWait * 9) / 10,
		WriteWait:     10 * time.Second,
		SendQueueSize: 256,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = d.SendQueueSize
	}
	return o
}

// Hub maintains the set of active clients.
type Hub struct {
	// Registered clients by session id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed once Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	handler  SessionHandler
	options  Options
	upgrader websocket.Upgrader

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(handler SessionHandler, options Options, logger *zap.Logger) *Hub {
	options = options.withDefaults()
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		handler:    handler,
		options:    options,
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.options.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	for _, allowed := range h.options.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Run starts the hub's main loop. When ctx is done every connection is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.sessionID] = client
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.sessionID]; ok {
				delete(h.clients, client.sessionID)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", zap.String("sessionID", client.sessionID))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

// Count returns the number of registered connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return nil // the upgrader already answered
	}
	conn.SetReadLimit(h.options.ReadLimit)

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan WriteData, h.options.SendQueueSize),
		logger: h.logger,
	}

	sessionID, err := h.handler.OnConnect(client)
	if err != nil {
		h.logger.Warn("Connection refused", zap.Error(err))
		deadline := time.Now().Add(h.options.WriteWait)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		return conn.Close()
	}
	client.sessionID = sessionID
	client.logger = h.logger.With(zap.String("sessionID", sessionID))

	select {
	case h.register <- client:
	case <-h.done:
		h.handler.OnDisconnect(sessionID)
		return conn.Close()
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// WriteData is one outbound websocket frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the session manager.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Session ID assigned on connect
	sessionID string

	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Send queues a text frame without blocking. It implements usecase.Sink.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// close stops the write pump; Send fails afterwards
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps frames from the websocket connection to the session manager.
// Only a transport error or close ends it.
func (c *Client) readPump() {
	defer func() {
		c.hub.handler.OnDisconnect(c.sessionID)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	pongWait := c.hub.options.PongWait
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			err = c.hub.handler.OnBinaryMessage(c.sessionID, message)
		case websocket.TextMessage:
			err = c.hub.handler.OnTextMessage(c.sessionID, message)
		default:
			c.logger.Warn("Received unexpected frame", zap.String("type", FrameTypeName(messageType)))
			continue
		}

		if errors.Is(err, entities.ErrSessionNotFound) {
			c.logger.Warn("Frame for unknown session dropped", zap.Int("size", len(message)))
		}
	}
}

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.options.PingPeriod)
	writeWait := c.hub.options.WriteWait
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
