// Package wsfanout adapts C11 Realtime Fan-out onto golang.org/x/net/websocket:
// a connection set keyed by a server-generated client id, a 30s keepalive
// ping, and drop-on-send-failure backpressure. Bus events are multiplexed
// to every client whose subscription filter (project id set and/or event
// type set; empty means "all") matches.
package wsfanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/kirillkom/repowatch/internal/core/domain"
	"github.com/kirillkom/repowatch/internal/core/ports"
	"github.com/kirillkom/repowatch/internal/observability/metrics"
)

const (
	defaultKeepalive = 30 * time.Second
	sendTimeout      = 5 * time.Second
)

type clientFrame struct {
	Type string `json:"type"`
}

type connectedFrame struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// filter restricts which events a client receives; an empty set on either
// axis means "no restriction on that axis".
type filter struct {
	projectIDs map[string]struct{}
	eventTypes map[domain.EventType]struct{}
}

func (f filter) matches(e domain.Event) bool {
	if len(f.projectIDs) > 0 {
		if _, ok := f.projectIDs[e.ProjectID]; !ok {
			return false
		}
	}
	if len(f.eventTypes) > 0 {
		if _, ok := f.eventTypes[e.Type]; !ok {
			return false
		}
	}
	return true
}

type client struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex // guards writes and filter updates
	filter filter
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return websocket.JSON.Send(c.conn, v)
}

func (c *client) setFilter(f filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *client) currentFilter() filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Server is the realtime fan-out broadcaster. It subscribes to every bus
// topic and republishes each event to every connection set member whose
// filter matches.
type Server struct {
	bus       ports.EventBus
	keepalive time.Duration
	logger    *slog.Logger
	metrics   *metrics.FanoutMetrics

	mu      sync.Mutex
	clients map[string]*client

	nextID   func() string
	stopOnce sync.Once
	stopCh   chan struct{}
}

type Options struct {
	Keepalive time.Duration
	ClientID  func() string // overridable for tests; defaults to uuid-based
}

func New(bus ports.EventBus, logger *slog.Logger, m *metrics.FanoutMetrics, opts Options) *Server {
	keepalive := opts.Keepalive
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	idFn := opts.ClientID
	if idFn == nil {
		idFn = newClientID
	}
	return &Server{
		bus:       bus,
		keepalive: keepalive,
		logger:    logger,
		metrics:   m,
		clients:   make(map[string]*client),
		nextID:    idFn,
		stopCh:    make(chan struct{}),
	}
}

// Handler returns the websocket upgrade handler to mount on an
// http.ServeMux, in the teacher's router-composition style.
func (s *Server) Handler() http.Handler {
	return websocket.Handler(s.serveConn)
}

func (s *Server) serveConn(conn *websocket.Conn) {
	c := &client{id: s.nextID(), conn: conn}

	s.mu.Lock()
	s.clients[c.id] = c
	count := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetConnectedClients(count)
	}

	if err := c.send(connectedFrame{
		Type:      "connected",
		ClientID:  c.id,
		Message:   "connected",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		s.remove(c.id)
		return
	}

	keepaliveStop := make(chan struct{})
	go s.keepaliveLoop(c, keepaliveStop)
	defer close(keepaliveStop)

	s.readLoop(c)
	s.remove(c.id)
}

// readLoop blocks on client frames until the connection closes. The only
// frames clients send are pings and subscription updates.
func (s *Server) readLoop(c *client) {
	for {
		var raw json.RawMessage
		if err := websocket.JSON.Receive(c.conn, &raw); err != nil {
			return
		}

		var base clientFrame
		if err := json.Unmarshal(raw, &base); err != nil {
			continue
		}

		switch base.Type {
		case "ping":
			_ = c.send(pongFrame{Type: "pong", Timestamp: time.Now().UTC()})
		case "subscribe":
			var sub subscribeFrame
			if err := json.Unmarshal(raw, &sub); err == nil {
				c.setFilter(sub.toFilter())
			}
		case "unsubscribe":
			c.setFilter(filter{})
		}
	}
}

type subscribeFrame struct {
	ProjectIDs []string `json:"projectIds"`
	EventTypes []string `json:"eventTypes"`
}

func (s subscribeFrame) toFilter() filter {
	f := filter{}
	if len(s.ProjectIDs) > 0 {
		f.projectIDs = make(map[string]struct{}, len(s.ProjectIDs))
		for _, id := range s.ProjectIDs {
			f.projectIDs[id] = struct{}{}
		}
	}
	if len(s.EventTypes) > 0 {
		f.eventTypes = make(map[domain.EventType]struct{}, len(s.EventTypes))
		for _, t := range s.EventTypes {
			f.eventTypes[domain.EventType(t)] = struct{}{}
		}
	}
	return f
}

func (s *Server) keepaliveLoop(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := c.send(pongFrame{Type: "ping", Timestamp: time.Now().UTC()}); err != nil {
				s.remove(c.id)
				return
			}
		}
	}
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	count := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = c.conn.Close()
	if s.metrics != nil {
		s.metrics.SetConnectedClients(count)
		s.metrics.RecordClientDrop("realtime")
	}
}

// Run subscribes to the bus and republishes every event to matching
// clients until ctx is cancelled, then closes every connection in order.
func (s *Server) Run(ctx context.Context) error {
	err := s.bus.Subscribe(ctx, nil, func(_ context.Context, event domain.Event) error {
		s.Broadcast(event)
		return nil
	})
	_ = s.Shutdown(context.Background())
	return err
}

// Broadcast satisfies ports.RealtimeBroadcaster, sending event to every
// connected client whose filter matches.
func (s *Server) Broadcast(event domain.Event) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if !c.currentFilter().matches(event) {
			continue
		}
		if err := c.send(event); err != nil {
			s.logger.Warn("realtime_send_failed", "client_id", c.id, "error", err)
			s.remove(c.id)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordEventSent("realtime", string(event.Type))
		}
	}
}

// Shutdown satisfies ports.RealtimeBroadcaster: the subscription loop is
// already torn down by the caller cancelling Run's context, so this closes
// the connection set last, in normal-closure order.
func (s *Server) Shutdown(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		targets := make([]*client, 0, len(s.clients))
		for _, c := range s.clients {
			targets = append(targets, c)
		}
		s.clients = make(map[string]*client)
		s.mu.Unlock()
		for _, c := range targets {
			_ = c.conn.Close()
		}
	})
	return nil
}

// ConnectedClients reports the current connection-set size, for health
// checks and tests.
func (s *Server) ConnectedClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
