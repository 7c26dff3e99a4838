package asynqueue

import (
	"testing"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

func TestConfigNormalizeDefaultsAttemptsToOne(t *testing.T) {
	cfg := Config{}.normalize()
	if cfg.Attempts != 1 {
		t.Fatalf("expected default Attempts=1, got %d", cfg.Attempts)
	}

	cfg = Config{Attempts: 3}.normalize()
	if cfg.Attempts != 3 {
		t.Fatalf("expected explicit Attempts to be preserved, got %d", cfg.Attempts)
	}
}

func TestProgressKeyIsNamespacedPerJob(t *testing.T) {
	a := progressKey("job-1")
	b := progressKey("job-2")
	if a == b {
		t.Fatal("expected distinct jobs to have distinct progress keys")
	}
	if a != "job-progress:job-1" {
		t.Fatalf("progressKey() = %q, want %q", a, "job-progress:job-1")
	}
}

func TestQueueWeightsFavorHigherPriority(t *testing.T) {
	if queueWeights["high"] <= queueWeights["normal"] || queueWeights["normal"] <= queueWeights["low"] {
		t.Fatalf("expected strictly descending weights high > normal > low, got %+v", queueWeights)
	}
}

func TestQueueNamesCoverEveryPriority(t *testing.T) {
	for _, p := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		if queueNames[p] == "" {
			t.Fatalf("expected a queue name mapped for priority %v", p)
		}
	}
}
