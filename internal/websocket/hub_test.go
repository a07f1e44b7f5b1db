package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/chkda/transcription-service/usecase"
)

type frame struct {
	sessionID string
	data      []byte
}

type fakeHandler struct {
	mu          sync.Mutex
	sinks       map[string]usecase.Sink
	next        int
	connectErr  error
	binary      chan frame
	text        chan frame
	disconnects chan string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		sinks:       make(map[string]usecase.Sink),
		binary:      make(chan frame, 16),
		text:        make(chan frame, 16),
		disconnects: make(chan string, 16),
	}
}

func (f *fakeHandler) OnConnect(sink usecase.Sink) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return "", f.connectErr
	}
	f.next++
	id := fmt.Sprintf("session-%d", f.next)
	f.sinks[id] = sink
	return id, nil
}

func (f *fakeHandler) OnBinaryMessage(sessionID string, data []byte) error {
	f.binary <- frame{sessionID: sessionID, data: data}
	return nil
}

func (f *fakeHandler) OnTextMessage(sessionID string, data []byte) error {
	f.text <- frame{sessionID: sessionID, data: data}
	return nil
}

func (f *fakeHandler) OnDisconnect(sessionID string) {
	f.disconnects <- sessionID
}

func (f *fakeHandler) sink(id string) usecase.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[id]
}

func setupTestHub(t *testing.T, handler SessionHandler, options Options) (*Hub, string, context.CancelFunc) {
	t.Helper()

	hub := NewHub(handler, options, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws", cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatal("Timed out waiting for event")
		return zero
	}
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, got %d", want, hub.Count())
}

func TestHub_RoutesFrames(t *testing.T) {
	handler := newFakeHandler()
	hub, url, _ := setupTestHub(t, handler, Options{})
	conn := dial(t, url)
	waitForCount(t, hub, 1)

	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		t.Fatalf("Failed to write binary frame: %v", err)
	}
	got := receive(t, handler.binary)
	if got.sessionID != "session-1" || string(got.data) != string(pcm) {
		t.Errorf("Unexpected binary frame: %+v", got)
	}

	config := `{"type": "config", "data": {"language": "en"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(config)); err != nil {
		t.Fatalf("Failed to write text frame: %v", err)
	}
	if got := receive(t, handler.text); string(got.data) != config {
		t.Errorf("Unexpected text frame: %s", got.data)
	}
}

func TestHub_SinkDeliversTextFrames(t *testing.T) {
	handler := newFakeHandler()
	hub, url, _ := setupTestHub(t, handler, Options{})
	conn := dial(t, url)
	waitForCount(t, hub, 1)

	if err := handler.sink("session-1").Send([]byte(`{"text":"hello"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if messageType != websocket.TextMessage || string(payload) != `{"text":"hello"}` {
		t.Errorf("Unexpected frame %d: %s", messageType, payload)
	}
}

func TestHub_Disconnect(t *testing.T) {
	handler := newFakeHandler()
	hub, url, _ := setupTestHub(t, handler, Options{})
	conn := dial(t, url)
	waitForCount(t, hub, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	if id := receive(t, handler.disconnects); id != "session-1" {
		t.Errorf("Expected disconnect of session-1, got %s", id)
	}
	waitForCount(t, hub, 0)

	if err := handler.sink("session-1").Send([]byte("late")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed after disconnect, got %v", err)
	}
}

func TestHub_ConnectRefused(t *testing.T) {
	handler := newFakeHandler()
	handler.connectErr = errors.New("shutting down")
	_, url, _ := setupTestHub(t, handler, Options{})
	conn := dial(t, url)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Errorf("Expected try-again-later close, got %v", err)
	}
}

func TestHub_OriginCheck(t *testing.T) {
	handler := newFakeHandler()
	_, url, _ := setupTestHub(t, handler, Options{AllowedOrigins: []string{"https://allowed.example"}})

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{name: "allowed", origin: "https://allowed.example", ok: true},
		{name: "no origin", origin: "", ok: true},
		{name: "foreign", origin: "https://evil.example", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if conn != nil {
				conn.Close()
			}
			if tt.ok && err != nil {
				t.Fatalf("Expected connection, got %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("Expected handshake to fail")
				}
				if resp == nil || resp.StatusCode != http.StatusForbidden {
					t.Errorf("Expected 403, got %v", resp)
				}
			}
		})
	}
}

func TestHub_StopClosesConnections(t *testing.T) {
	handler := newFakeHandler()
	hub, url, cancel := setupTestHub(t, handler, Options{})
	conn := dial(t, url)
	waitForCount(t, hub, 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going-away close, got %v", err)
	}
	if id := receive(t, handler.disconnects); id != "session-1" {
		t.Errorf("Expected disconnect of session-1, got %s", id)
	}
}

func TestClient_SendQueueFull(t *testing.T) {
	client := &Client{send: make(chan WriteData, 1)}

	if err := client.Send([]byte("one")); err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	if err := client.Send([]byte("two")); !errors.Is(err, ErrSendQueueFull) {
		t.Errorf("Expected ErrSendQueueFull, got %v", err)
	}

	client.close()
	client.close()
	if err := client.Send([]byte("three")); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{PongWait: 10 * time.Second, PingPeriod: 20 * time.Second}.withDefaults()

	if o.PingPeriod != 9*time.Second {
		t.Errorf("Expected ping period below pong wait, got %v", o.PingPeriod)
	}
	if o.ReadLimit != DefaultOptions().ReadLimit || o.SendQueueSize != 256 {
		t.Errorf("Unexpected defaults: %+v", o)
	}
}
