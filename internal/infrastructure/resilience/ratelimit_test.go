package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRateLimitedExecutorRetriesRetryableError(t *testing.T) {
	exec := NewRateLimitedExecutor(RateLimitConfig{
		MaxConcurrent:     2,
		RequestsPerMinute: 1000,
		BackoffMultiplier: 2,
		MaxRetries:        3,
		InitialDelay:      1 * time.Millisecond,
	}, discardLogger())

	var attempts int32
	err := exec.Execute(context.Background(), func(context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return errors.New("rate_limit exceeded")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRateLimitedExecutorDoesNotRetryNonRetryableError(t *testing.T) {
	exec := NewRateLimitedExecutor(RateLimitConfig{
		MaxConcurrent:     1,
		RequestsPerMinute: 1000,
		InitialDelay:      1 * time.Millisecond,
		MaxRetries:        3,
	}, discardLogger())

	var attempts int32
	errPermanent := errors.New("invalid request")
	err := exec.Execute(context.Background(), func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errPermanent
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestSlidingWindowLimiterRejectsBurstBeyondLimit(t *testing.T) {
	w := newSlidingWindowLimiter(2, 50*time.Millisecond)

	if _, ok := w.reserve(); !ok {
		t.Fatalf("expected first reservation to be admitted")
	}
	if _, ok := w.reserve(); !ok {
		t.Fatalf("expected second reservation to be admitted")
	}
	delay, ok := w.reserve()
	if ok {
		t.Fatalf("expected third reservation within the window to be rejected")
	}
	if delay <= 0 || delay > 50*time.Millisecond {
		t.Fatalf("expected a delay within the window length, got %v", delay)
	}

	time.Sleep(delay + 5*time.Millisecond)
	if _, ok := w.reserve(); !ok {
		t.Fatalf("expected a reservation once the oldest start aged out")
	}
}

func TestRateLimitedExecutorEnforcesMaxConcurrent(t *testing.T) {
	exec := NewRateLimitedExecutor(RateLimitConfig{
		MaxConcurrent:     1,
		RequestsPerMinute: 1000,
		InitialDelay:      1 * time.Millisecond,
		MaxRetries:        1,
	}, discardLogger())

	var inFlight, maxObserved int32
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			_ = exec.Execute(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				if n > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, n)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	if maxObserved > 1 {
		t.Fatalf("expected max 1 concurrent invocation, observed %d", maxObserved)
	}
}
