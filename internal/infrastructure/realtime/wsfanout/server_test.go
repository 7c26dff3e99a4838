package wsfanout

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

type busFake struct {
	mu      sync.Mutex
	handler func(context.Context, domain.Event) error
}

func (b *busFake) Publish(context.Context, domain.Event) error { return nil }

func (b *busFake) Subscribe(ctx context.Context, _ []domain.EventType, handler func(context.Context, domain.Event) error) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (b *busFake) Ready() bool  { return true }
func (b *busFake) Close() error { return nil }

func (b *busFake) emit(e domain.Event) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		_ = h(context.Background(), e)
	}
}

func newTestServer(t *testing.T, bus *busFake) (*Server, *httptest.Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(bus, logger, nil, Options{Keepalive: time.Hour})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return srv, ts, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, err := websocket.Dial(wsURL, "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnectSendsConnectedFrame(t *testing.T) {
	bus := &busFake{}
	_, _, wsURL := newTestServer(t, bus)
	conn := dial(t, wsURL)

	var frame connectedFrame
	if err := websocket.JSON.Receive(conn, &frame); err != nil {
		t.Fatalf("receive connected frame: %v", err)
	}
	if frame.Type != "connected" || frame.ClientID == "" {
		t.Fatalf("unexpected connected frame: %+v", frame)
	}
}

func TestClientPingReceivesPong(t *testing.T) {
	bus := &busFake{}
	_, _, wsURL := newTestServer(t, bus)
	conn := dial(t, wsURL)

	var connected connectedFrame
	if err := websocket.JSON.Receive(conn, &connected); err != nil {
		t.Fatalf("receive connected frame: %v", err)
	}

	if err := websocket.JSON.Send(conn, clientFrame{Type: "ping"}); err != nil {
		t.Fatalf("send ping: %v", err)
	}

	var pong pongFrame
	if err := websocket.JSON.Receive(conn, &pong); err != nil {
		t.Fatalf("receive pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Fatalf("expected pong frame, got %+v", pong)
	}
}

func TestBroadcastDeliversMatchingEventsOnly(t *testing.T) {
	bus := &busFake{}
	srv, _, wsURL := newTestServer(t, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	conn := dial(t, wsURL)
	var connected connectedFrame
	if err := websocket.JSON.Receive(conn, &connected); err != nil {
		t.Fatalf("receive connected frame: %v", err)
	}

	if err := websocket.JSON.Send(conn, map[string]any{"type": "subscribe", "projectIds": []string{"proj-1"}}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}

	waitForSubscriberCount(t, bus)
	time.Sleep(20 * time.Millisecond) // let the server's readLoop apply the subscribe frame

	bus.emit(domain.NewEvent(domain.EventProjectAdded, "other-proj", nil))
	bus.emit(domain.NewEvent(domain.EventProjectAdded, "proj-1", nil))

	var got domain.Event
	if err := websocket.JSON.Receive(conn, &got); err != nil {
		t.Fatalf("receive event: %v", err)
	}
	if got.ProjectID != "proj-1" {
		t.Fatalf("expected only the matching project event, got %+v", got)
	}
}

func waitForSubscriberCount(t *testing.T, bus *busFake) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bus.mu.Lock()
		ready := bus.handler != nil
		bus.mu.Unlock()
		if ready {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bus subscribe handler never registered")
}
