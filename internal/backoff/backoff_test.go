package backoff

import (
	"testing"
	"time"
)

func TestResumeDelaySequence(t *testing.T) {
	cases := []struct {
		attempt int
		want    int64 // milliseconds
	}{
		{1, 1500},
		{2, 3000},
		{3, 6000},
		{4, 12000},
	}
	for _, c := range cases {
		if got := ResumeDelay(c.attempt).Milliseconds(); got != c.want {
			t.Errorf("ResumeDelay(%d) = %dms, want %dms", c.attempt, got, c.want)
		}
	}
}

func TestResumeDelayCapsAtMax(t *testing.T) {
	if got := ResumeDelay(20); got != ResumeMaxDelay {
		t.Fatalf("ResumeDelay(20) = %v, want capped at %v", got, ResumeMaxDelay)
	}
}

func TestResumeDelayClampsLowAttempts(t *testing.T) {
	if ResumeDelay(0) != ResumeDelay(1) {
		t.Fatal("ResumeDelay(0) should clamp to attempt 1's delay")
	}
}

// TestReconnectDelayScenarioTwo exercises the Player reconnection-sequence
// schedule: attempts 1, 2, 3 yield 1500, 3000, 4500ms, capped at 5000ms.
func TestReconnectDelayScenarioTwo(t *testing.T) {
	cases := []struct {
		attempt int
		want    int64
	}{
		{1, 1500},
		{2, 3000},
		{3, 4500},
		{4, 5000},
		{100, 5000},
	}
	for _, c := range cases {
		if got := ReconnectDelay(c.attempt).Milliseconds(); got != c.want {
			t.Errorf("ReconnectDelay(%d) = %dms, want %dms", c.attempt, got, c.want)
		}
	}
}

func TestNodeDelayInfiniteIsFixed(t *testing.T) {
	for _, attempt := range []int{1, 5, 50} {
		if got := NodeDelay(attempt, 2*time.Second, true); got != NodeInfiniteBackoff {
			t.Errorf("NodeDelay(%d, infinite) = %v, want %v", attempt, got, NodeInfiniteBackoff)
		}
	}
}

func TestNodeDelayBounded(t *testing.T) {
	base := 1 * time.Second
	for attempt := 1; attempt <= 30; attempt++ {
		d := NodeDelay(attempt, base, false)
		if d > NodeMaxBackoff {
			t.Fatalf("NodeDelay(%d) = %v, exceeds NodeMaxBackoff %v", attempt, d, NodeMaxBackoff)
		}
		if d <= 0 {
			t.Fatalf("NodeDelay(%d) = %v, want positive", attempt, d)
		}
	}
}

func TestNodeDelayGrowsWithAttempt(t *testing.T) {
	base := 500 * time.Millisecond
	// Jitter makes exact comparisons flaky; compare the deterministic
	// pre-jitter floor by checking attempt 5 clears attempt 1's full delay
	// including its maximum possible jitter.
	d1 := NodeDelay(1, base, false)
	d5 := NodeDelay(5, base, false)
	if d5 <= d1 {
		t.Fatalf("NodeDelay(5)=%v did not grow past NodeDelay(1)=%v", d5, d1)
	}
}
