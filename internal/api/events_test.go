package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *eventHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.handleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The server registers the connection after the handshake returns;
	// wait for it so broadcasts have a peer.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		n := len(hub.conns)
		hub.mu.Unlock()
		if n == 1 {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("connection never registered")
	return nil
}

func TestEventHub_DeliversEvents(t *testing.T) {
	hub := newEventHub(slog.Default())
	conn := dialHub(t, hub)

	hub.broadcast("char-1", "first_mes", "responded")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Character != "char-1" || ev.Field != "first_mes" || ev.Kind != "responded" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ID == "" {
		t.Error("event id missing")
	}
}

func TestEventHub_ConcurrentBroadcasts(t *testing.T) {
	hub := newEventHub(slog.Default())
	conn := dialHub(t, hub)

	// Drain the feed so broadcasts never back up on a full buffer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// One writer per connection is the websocket contract; hammering
	// broadcast from many goroutines must stay race-free.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				hub.broadcast("char-1", "first_mes", "responded")
			}
		}()
	}
	wg.Wait()

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never finished")
	}
}
