package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/order-print-desk/internal/model"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(quietLogger())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) model.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg model.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubBroadcast(t *testing.T) {
	hub, url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(model.MessageTypeNewOrder, map[string]any{"id": 42})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, model.MessageTypeNewOrder, msg.Type)
		assert.Equal(t, float64(42), msg.Data.(map[string]any)["id"])
		assert.NotEmpty(t, msg.Timestamp)
	}
}

func TestHubReplaysRetainedToLateClients(t *testing.T) {
	hub, url := startHub(t)

	hub.Retain(model.MessageTypeSessionRestore, map[string]any{"email": "desk@example.com"})
	hub.Broadcast(model.MessageTypeNewOrder, nil) // not retained

	late := dial(t, url)
	msg := readMessage(t, late)
	assert.Equal(t, model.MessageTypeSessionRestore, msg.Type)

	hub.Forget(model.MessageTypeSessionRestore)
	later := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(model.MessageTypeSignedOut, nil)
	for {
		msg := readMessage(t, later)
		assert.NotEqual(t, model.MessageTypeSessionRestore, msg.Type, "forgotten messages are not replayed")
		if msg.Type == model.MessageTypeSignedOut {
			break
		}
	}
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3491", true},
		{"http://[::1]:8080", true},
		{"https://evil.example.com", false},
		{"null", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "http://127.0.0.1:3491/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, localOrigin(r), tt.origin)
	}

	rebound := httptest.NewRequest("GET", "http://evil.example.com:3491/ws", nil)
	rebound.Header.Set("Origin", "http://evil.example.com:3491")
	assert.False(t, localOrigin(rebound), "an origin matching a non-loopback Host is still foreign")
}

func TestLoopbackHost(t *testing.T) {
	for host, want := range map[string]bool{
		"localhost":             true,
		"LOCALHOST:3491":        true,
		"localhost.:3491":       true,
		"127.0.0.1":             true,
		"127.0.0.2:80":          true,
		"[::1]:3491":            true,
		"::1":                   true,
		"192.168.1.20:3491":     false,
		"evil.example.com:3491": false,
		"localhost.evil.com":    false,
		"":                      false,
	} {
		assert.Equal(t, want, loopbackHost(host), host)
	}
}
