package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialHub spins up a ws endpoint that registers connections under
// sessionID and returns a connected client conn.
func dialHub(t *testing.T, hub *Hub, sessionID string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.AddClient(sessionID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Wait for the server side to register.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHubSendReachesOwningSession(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "sess1")

	hub.Send("sess1", WSMessage{Type: MsgClear})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MsgClear {
		t.Errorf("type = %q, want clear", msg.Type)
	}
}

func TestHubSendSkipsOtherSessions(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "sess1")

	hub.Send("other", WSMessage{Type: MsgClear})
	hub.Send("sess1", WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "marker"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// The first frame received must be the one addressed to sess1.
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MsgError {
		t.Errorf("type = %q, want error (clear for 'other' must not arrive)", msg.Type)
	}
}

func TestHubSendNoClients(t *testing.T) {
	hub := NewHub()
	// Should not panic or block with nobody attached.
	hub.Send("ghost", WSMessage{Type: MsgClear})
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub()
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}

	dialHub(t, hub, "sess1")
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestHubConcurrentSendAndRemove(t *testing.T) {
	hub := NewHub()

	// Unbuffered send channels with no writePump: every queue attempt
	// fails, so each Send tries to disconnect every client while other
	// Sends are in flight. No frame may land on a closed channel.
	for i := 0; i < 20; i++ {
		c := &client{sessionID: "sess1", send: make(chan []byte)}
		hub.clients[c] = true
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Send("sess1", WSMessage{Type: MsgClear})
			}
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0 after slow clients dropped", got)
	}
}

func TestHubRemoveClientIdempotent(t *testing.T) {
	hub := NewHub()
	c := &client{sessionID: "x", send: make(chan []byte, 1)}
	hub.clients[c] = true

	hub.RemoveClient(c)
	hub.RemoveClient(c) // second removal must not panic on the closed channel

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}
