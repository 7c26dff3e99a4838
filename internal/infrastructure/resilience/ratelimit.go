package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// RateLimitConfig configures C6's two-gate slot acquisition and retry
// backoff around the external analyzer.
type RateLimitConfig struct {
	MaxConcurrent     int
	RequestsPerMinute int
	BackoffMultiplier float64
	MaxRetries        int
	InitialDelay      time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxConcurrent:     3,
		RequestsPerMinute: 10,
		BackoffMultiplier: 2.0,
		MaxRetries:        3,
		InitialDelay:      2 * time.Second,
	}
}

func (c RateLimitConfig) normalize() RateLimitConfig {
	def := DefaultRateLimitConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = def.RequestsPerMinute
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	return c
}

const maxBackoff = 60 * time.Second
const rateLimitWindow = time.Minute

// RateLimitedExecutor gates concurrent invocations below MaxConcurrent and
// throughput below RequestsPerMinute, then retries on a classified-retryable
// error with capped jittered backoff.
type RateLimitedExecutor struct {
	cfg    RateLimitConfig
	sem    *semaphore.Weighted
	window *slidingWindowLimiter
	logger *slog.Logger
}

func NewRateLimitedExecutor(cfg RateLimitConfig, logger *slog.Logger) *RateLimitedExecutor {
	cfg = cfg.normalize()
	return &RateLimitedExecutor{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		window: newSlidingWindowLimiter(cfg.RequestsPerMinute, rateLimitWindow),
		logger: logger,
	}
}

// slidingWindowLimiter admits at most limit starts within any trailing
// window-length interval, tracked by timestamp rather than a refilling
// token bucket — a burst never gets more than limit admissions per window,
// and the (limit+1)th start always waits until the oldest in-window start
// ages out.
type slidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	starts []time.Time
}

func newSlidingWindowLimiter(limit int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{limit: limit, window: window}
}

func (l *slidingWindowLimiter) wait(ctx context.Context) error {
	for {
		delay, ok := l.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve admits the caller immediately (ok=true) if the window has room,
// otherwise returns how long until the oldest tracked start ages out.
func (l *slidingWindowLimiter) reserve() (delay time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.starts) && l.starts[i].Before(cutoff) {
		i++
	}
	l.starts = l.starts[i:]

	if len(l.starts) < l.limit {
		l.starts = append(l.starts, now)
		return 0, true
	}
	return l.starts[0].Add(l.window).Sub(now), false
}

// Execute awaits a slot, invokes fn, releases the slot, and retries on a
// retryable failure. A slot is held only for the duration of one attempt;
// gate (a) and gate (b) are both re-checked per attempt.
func (e *RateLimitedExecutor) Execute(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	backoff := e.cfg.InitialDelay

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.acquireSlot(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		e.sem.Release(1)

		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == e.cfg.MaxRetries {
			break
		}

		base := e.cfg.InitialDelay
		if isRateLimitError(err) {
			base = 3 * e.cfg.InitialDelay
		}
		wait := jitteredBackoff(base, e.cfg.BackoffMultiplier, attempt)
		e.logger.Warn("rate_limited_executor_retry",
			"attempt", attempt, "max_retries", e.cfg.MaxRetries, "wait_ms", wait.Milliseconds(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = wait
	}
	_ = backoff
	return fmt.Errorf("rate limited executor exhausted retries: %w", lastErr)
}

// acquireSlot blocks until both gates pass: the in-flight semaphore
// (gate a) and the sliding-window request budget (gate b).
func (e *RateLimitedExecutor) acquireSlot(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := e.window.wait(ctx); err != nil {
		e.sem.Release(1)
		return err
	}
	return nil
}

func jitteredBackoff(base time.Duration, multiplier float64, attempt int) time.Duration {
	raw := float64(base) * pow(multiplier, attempt-1)
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // +/-20%
	d := time.Duration(raw * jitter)
	if d > maxBackoff {
		d = maxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// isRetryable implements C6's retry classification: transport status
// 429/529 (via a StatusCode() method or the "status 429"/"status 529" text
// the analyzer client wraps provider errors with), or message containing
// rate_limit/overloaded/aborted/timed out.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		if code == 429 || code == 529 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"rate_limit", "overloaded", "aborted", "timed out", "status 429", "status 529"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429")
}
