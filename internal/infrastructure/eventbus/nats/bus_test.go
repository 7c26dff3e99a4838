package nats

import (
	"container/list"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

func newTestBus() *Bus {
	return &Bus{
		subject: "repowatch.events",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		outbox:  list.New(),
	}
}

func TestPublishBuffersToOutboxWhileNotReady(t *testing.T) {
	b := newTestBus()
	b.setReady(false)

	event := domain.Event{Type: domain.EventProjectAdded, ProjectID: "p-1"}
	if err := b.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v, want nil (buffered)", err)
	}
	if b.outbox.Len() != 1 {
		t.Fatalf("expected 1 buffered event, got %d", b.outbox.Len())
	}
}

func TestEnqueueOutboxDropsOldestWhenFull(t *testing.T) {
	b := newTestBus()

	for i := 0; i < outboxCapacity; i++ {
		b.enqueueOutbox(domain.Event{Type: domain.EventProjectAdded, ProjectID: "filler"})
	}
	if b.outbox.Len() != outboxCapacity {
		t.Fatalf("expected outbox to be at capacity, got %d", b.outbox.Len())
	}

	overflow := domain.Event{Type: domain.EventProjectAdded, ProjectID: "overflow-marker"}
	b.enqueueOutbox(overflow)

	if b.outbox.Len() != outboxCapacity {
		t.Fatalf("expected outbox to stay bounded at %d, got %d", outboxCapacity, b.outbox.Len())
	}
	last := b.outbox.Back().Value.(domain.Event)
	if last.ProjectID != "overflow-marker" {
		t.Fatalf("expected the newest event to survive eviction, got %+v", last)
	}
}

func TestReadyReflectsSetReady(t *testing.T) {
	b := newTestBus()
	if b.Ready() {
		t.Fatal("expected a freshly constructed bus to be not ready")
	}
	b.setReady(true)
	if !b.Ready() {
		t.Fatal("expected Ready() to reflect setReady(true)")
	}
}

func TestTopicSubjectJoinsPrefixAndType(t *testing.T) {
	got := topicSubject("repowatch.events", domain.EventAnalysisCompleted)
	want := "repowatch.events." + string(domain.EventAnalysisCompleted)
	if got != want {
		t.Fatalf("topicSubject() = %q, want %q", got, want)
	}
}

func TestClassifyBusErrorMarksKnownTransportErrorsRetryable(t *testing.T) {
	if c := classifyBusError(nil); c.Retryable || c.RecordFailure {
		t.Fatalf("expected nil error to classify as a no-op, got %+v", c)
	}
	for _, err := range []error{nats.ErrNoServers, nats.ErrTimeout, nats.ErrConnectionClosed, nats.ErrDisconnected} {
		if c := classifyBusError(err); !c.Retryable || !c.RecordFailure {
			t.Fatalf("expected %v to classify as retryable, got %+v", err, c)
		}
	}
}
