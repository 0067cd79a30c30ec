package streaming

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockVenue is an in-process WebSocket endpoint for tests. It records
// every frame clients send, can broadcast frames to all clients and
// can reject or drop connections to exercise reconnect paths.
type MockVenue struct {
	server *httptest.Server
	url    string

	mu         sync.Mutex
	conns      map[*websocket.Conn]bool
	received   [][]byte
	identities []string

	rejectNext bool
}

// NewMockVenue starts the mock endpoint. Call Close when done.
func NewMockVenue() *MockVenue {
	m := &MockVenue{
		conns: make(map[*websocket.Conn]bool),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// endpoint.
func (m *MockVenue) URL() string { return m.url }

// Close shuts the endpoint down.
func (m *MockVenue) Close() {
	m.server.Close()
}

// SetRejectConnection makes the endpoint refuse upgrades.
func (m *MockVenue) SetRejectConnection(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = reject
}

// DropAll force-closes every live connection, simulating an unexpected
// drop.
func (m *MockVenue) DropAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		_ = conn.Close()
	}
}

// Broadcast sends a JSON frame to every connected client.
func (m *MockVenue) Broadcast(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(m.conns, conn)
		}
	}
	return nil
}

// ReceivedFrames returns a copy of every frame clients have sent.
func (m *MockVenue) ReceivedFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

// ReceivedCount returns how many frames clients have sent.
func (m *MockVenue) ReceivedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

// ClearReceived empties the received-frame buffer.
func (m *MockVenue) ClearReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = nil
}

// Identities returns the access_token query value of each accepted
// connection, in order.
func (m *MockVenue) Identities() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.identities))
	copy(out, m.identities)
	return out
}

// ConnectionCount returns the number of live connections.
func (m *MockVenue) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// WaitForFrames polls until at least n frames have been received or
// the timeout elapses. Returns whether the target was reached.
func (m *MockVenue) WaitForFrames(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.ReceivedCount() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.ReceivedCount() >= n
}

// WaitForConnections polls until n connections are live or the timeout
// elapses. Returns whether the target was reached.
func (m *MockVenue) WaitForConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.ConnectionCount() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.ConnectionCount() >= n
}

func (m *MockVenue) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.rejectNext
	m.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.conns[conn] = true
	m.identities = append(m.identities, r.URL.Query().Get(identityParam))
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		_ = conn.Close()
	}()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData),
			time.Now().Add(time.Second))
	})

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		m.mu.Lock()
		m.received = append(m.received, frame)
		m.mu.Unlock()
	}
}
