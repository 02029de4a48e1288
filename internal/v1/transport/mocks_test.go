package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockConn is a scriptable wsConnection: tests feed inbound frames through a
// channel and read everything the pumps write back out.
type mockConn struct {
	inbound chan []byte

	text   chan []byte
	closes chan string
	pings  chan struct{}

	mu        sync.Mutex
	readLimit int64
	closed    bool
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 16),
		text:    make(chan []byte, 64),
		closes:  make(chan string, 4),
		pings:   make(chan struct{}, 4),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return errors.New("write on closed connection")
	}

	switch messageType {
	case websocket.TextMessage:
		m.text <- append([]byte(nil), data...)
	case websocket.CloseMessage:
		reason := ""
		if len(data) >= 2 {
			reason = string(data[2:])
		}
		m.closes <- reason
	case websocket.PingMessage:
		select {
		case m.pings <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	})
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }
func (m *mockConn) SetReadDeadline(time.Time) error  { return nil }

func (m *mockConn) SetReadLimit(limit int64) {
	m.mu.Lock()
	m.readLimit = limit
	m.mu.Unlock()
}

func (m *mockConn) SetPongHandler(func(string) error) {}

// drop simulates the client going away.
func (m *mockConn) drop() {
	close(m.inbound)
}

// nextText returns the next frame written to the socket.
func (m *mockConn) nextText(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-m.text:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}
