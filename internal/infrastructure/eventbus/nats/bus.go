// Package nats adapts the NATS client into C3's Event Bus Client contract:
// at-least-once delivery to connected subscribers, a bounded local outbox
// while disconnected, and exponential-backoff reconnect capped at 2s.
package nats

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/repowatch/internal/core/domain"
	"github.com/kirillkom/repowatch/internal/infrastructure/resilience"
)

const outboxCapacity = 1000

type Options struct {
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	Subject            string
	ResilienceExecutor *resilience.Executor
}

// Bus is the NATS-backed Event Bus Client.
type Bus struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger

	mu      sync.Mutex
	ready   bool
	outbox  *list.List // domain.Event
}

func New(url string, opts Options, logger *slog.Logger) (*Bus, error) {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := opts.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	if reconnectWait > 2*time.Second {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := opts.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = -1 // unlimited; reconnect forever, capped backoff
	}
	subject := opts.Subject
	if subject == "" {
		subject = "repowatch.events"
	}

	b := &Bus{
		subject:  subject,
		executor: opts.ResilienceExecutor,
		logger:   logger,
		outbox:   list.New(),
	}

	conn, err := nats.Connect(
		url,
		nats.Name("repowatch"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			delay := 100 * time.Millisecond
			for i := 1; i < attempts && delay < reconnectWait; i++ {
				delay *= 2
			}
			if delay > reconnectWait {
				delay = reconnectWait
			}
			return delay
		}),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.setReady(false)
			logger.Warn("eventbus_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.setReady(true)
			logger.Info("eventbus_reconnected", "url", nc.ConnectedUrl())
			b.flushOutbox(context.Background())
		}),
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "eventbus.connect", err)
	}
	b.conn = conn
	b.setReady(conn.IsConnected())
	return b, nil
}

func (b *Bus) setReady(v bool) {
	b.mu.Lock()
	b.ready = v
	b.mu.Unlock()
}

// Ready exposes a health flag iff the underlying connection's state is ready.
func (b *Bus) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Publish sends on the bus. While disconnected, events enter the bounded
// FIFO outbox; when full, the oldest entry is dropped and the loss logged.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	if !b.Ready() {
		b.enqueueOutbox(event)
		return nil
	}

	call := func(_ context.Context) error {
		return b.publishNow(event)
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "eventbus.publish", call, classifyBusError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		b.enqueueOutbox(event)
		return domain.WrapError(domain.ErrTemporary, "eventbus.publish", err)
	}
	return nil
}

func (b *Bus) publishNow(event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.conn.Publish(topicSubject(b.subject, event.Type), body)
}

func (b *Bus) enqueueOutbox(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outbox.Len() >= outboxCapacity {
		dropped := b.outbox.Remove(b.outbox.Front())
		b.logger.Warn("eventbus_outbox_overflow", "dropped_event", dropped)
	}
	b.outbox.PushBack(event)
}

func (b *Bus) flushOutbox(ctx context.Context) {
	b.mu.Lock()
	pending := make([]domain.Event, 0, b.outbox.Len())
	for e := b.outbox.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value.(domain.Event))
	}
	b.outbox.Init()
	b.mu.Unlock()

	for _, event := range pending {
		if err := b.Publish(ctx, event); err != nil {
			b.logger.Warn("eventbus_outbox_flush_failed", "error", err)
		}
	}
}

// Subscribe consumes every topic in topics (all topics if empty) until ctx
// is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topics []domain.EventType, handler func(context.Context, domain.Event) error) error {
	if len(topics) == 0 {
		topics = []domain.EventType{
			domain.EventProjectAdded, domain.EventProjectUpdated, domain.EventProjectRemoved,
			domain.EventAnalysisStarted, domain.EventAnalysisProgress,
			domain.EventAnalysisCompleted, domain.EventAnalysisFailed,
		}
	}

	subs := make([]*nats.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := b.conn.QueueSubscribe(topicSubject(b.subject, topic), "repowatch-subscribers", func(msg *nats.Msg) {
			var event domain.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				b.logger.Warn("eventbus_decode_failed", "error", err)
				return
			}
			handlerCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			if err := handler(handlerCtx, event); err != nil {
				b.logger.Warn("eventbus_handler_error", "topic", topic, "error", err)
			}
		})
		if err != nil {
			return domain.WrapError(domain.ErrTemporary, "eventbus.subscribe", err)
		}
		subs = append(subs, sub)
	}

	if err := b.conn.Flush(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "eventbus.flush", err)
	}

	<-ctx.Done()
	for _, sub := range subs {
		_ = sub.Drain()
	}
	return b.conn.FlushTimeout(5 * time.Second)
}

// Close drains and flushes, then closes the connection.
func (b *Bus) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("eventbus_drain_failed", "error", err)
	}
	b.conn.Close()
	return nil
}

func topicSubject(prefix string, t domain.EventType) string {
	return prefix + "." + string(t)
}

func classifyBusError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	switch err {
	case nats.ErrNoServers, nats.ErrTimeout, nats.ErrConnectionClosed, nats.ErrDisconnected:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}
