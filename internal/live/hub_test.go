package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coinboard/internal/cache"
)

// fakeFeed hands the hub a scripted event channel.
type fakeFeed struct {
	mu           sync.Mutex
	ch           chan cache.RefreshEvent
	unsubscribed bool
}

func (f *fakeFeed) Subscribe() <-chan cache.RefreshEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = make(chan cache.RefreshEvent, 8)
	return f.ch
}

func (f *fakeFeed) Unsubscribe(<-chan cache.RefreshEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
}

func (f *fakeFeed) publish(ev cache.RefreshEvent) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeFeed) wasUnsubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func startHub(t *testing.T, config *Config) (*Hub, *fakeFeed, *httptest.Server) {
	t.Helper()

	feed := &fakeFeed{}
	hub := NewHub(feed, zap.NewNop(), config)
	hub.Start()

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, feed, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(httpToWS(server.URL), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHubBroadcastsRefreshEvents(t *testing.T) {
	_, feed, server := startHub(t, nil)
	conn := dial(t, server)

	feed.publish(cache.RefreshEvent{
		TotalCoins:     195,
		TotalMarketCap: 1_500_000,
		TotalVolume24h: 320_000,
		UpdatedAt:      1_700_000_000_000,
	})

	msg := readMessage(t, conn)
	if msg.Type != "refresh" {
		t.Errorf("Expected type refresh, got %q", msg.Type)
	}
	if msg.TotalCoins != 195 {
		t.Errorf("Expected 195 coins, got %d", msg.TotalCoins)
	}
	if msg.TotalMarketCap != 1_500_000 {
		t.Errorf("Expected market cap 1500000, got %f", msg.TotalMarketCap)
	}
	if msg.UpdatedAt != 1_700_000_000_000 {
		t.Errorf("Expected updatedAt 1700000000000, got %d", msg.UpdatedAt)
	}
}

func TestHubFansOutToAllClients(t *testing.T) {
	hub, feed, server := startHub(t, nil)

	conns := []*websocket.Conn{dial(t, server), dial(t, server), dial(t, server)}
	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 3 }, "clients did not register")

	feed.publish(cache.RefreshEvent{TotalCoins: 42})

	for i, conn := range conns {
		msg := readMessage(t, conn)
		if msg.TotalCoins != 42 {
			t.Errorf("Client %d: expected 42 coins, got %d", i, msg.TotalCoins)
		}
	}
}

func TestHubDeliversEventsInOrder(t *testing.T) {
	_, feed, server := startHub(t, nil)
	conn := dial(t, server)

	for i := 1; i <= 5; i++ {
		feed.publish(cache.RefreshEvent{TotalCoins: i})
	}
	for i := 1; i <= 5; i++ {
		msg := readMessage(t, conn)
		if msg.TotalCoins != i {
			t.Fatalf("Expected event %d, got %d", i, msg.TotalCoins)
		}
	}
}

func TestHubSurvivesSlowClient(t *testing.T) {
	// One-slot buffer and a client that never reads: the pump must keep
	// serving the healthy client while the slow one loses messages.
	cfg := DefaultConfig()
	cfg.SendBuffer = 1

	hub, feed, server := startHub(t, &cfg)

	slow := dial(t, server)
	_ = slow // never read from
	healthy := dial(t, server)
	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 2 }, "clients did not register")

	for i := 1; i <= 20; i++ {
		feed.publish(cache.RefreshEvent{TotalCoins: i})
	}

	// The healthy client still observes events; which ones depends on
	// scheduling, so only progress is asserted.
	msg := readMessage(t, healthy)
	if msg.Type != "refresh" {
		t.Errorf("Expected refresh message, got %q", msg.Type)
	}
	if hub.ClientCount() != 2 {
		t.Errorf("Expected slow client to stay connected, got %d clients", hub.ClientCount())
	}
}

func TestHubUnregistersDisconnectedClient(t *testing.T) {
	hub, _, server := startHub(t, nil)

	conn := dial(t, server)
	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 1 }, "client did not register")

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return hub.ClientCount() == 0 }, "client was not unregistered")
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	feed := &fakeFeed{}
	hub := NewHub(feed, zap.NewNop(), nil)
	hub.Start()

	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(httpToWS(server.URL), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := hub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The client sees a normal close frame.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected read to fail after hub close")
	} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal closure, got %v", err)
	}

	if hub.ClientCount() != 0 {
		t.Errorf("Expected no clients after close, got %d", hub.ClientCount())
	}
	if !feed.wasUnsubscribed() {
		t.Error("Expected hub to unsubscribe from the feed on close")
	}

	// Second close is a no-op.
	if err := hub.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

func TestHubRejectsConnectionsAfterClose(t *testing.T) {
	feed := &fakeFeed{}
	hub := NewHub(feed, zap.NewNop(), nil)
	hub.Start()
	hub.Close()

	server := httptest.NewServer(hub)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after close, got %d", resp.StatusCode)
	}
}
