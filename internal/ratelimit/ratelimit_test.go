package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// testLimiter uses a controllable clock; Sleep advances it instead of
// waiting.
func testLimiter(t *testing.T, limit int) (*Limiter, *time.Time, *[]time.Duration) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	var slept []time.Duration

	l := New(filepath.Join(t.TempDir(), "ratelimit.json"), limit)
	l.Now = func() time.Time { return now }
	l.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}
	return l, &now, &slept
}

func TestAcquire_WithinQuota(t *testing.T) {
	l, _, slept := testLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if len(*slept) != 0 {
		t.Errorf("no sleep expected within quota, slept %v", *slept)
	}

	w, err := l.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if w.Count != 3 {
		t.Errorf("count: got %d, want 3", w.Count)
	}
}

func TestAcquire_BurstSleepsUntilRollover(t *testing.T) {
	l, now, slept := testLimiter(t, 2)
	ctx := context.Background()
	start := *now

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	if len(*slept) != 1 {
		t.Fatalf("expected exactly one sleep, got %v", *slept)
	}
	if (*slept)[0] != Window {
		t.Errorf("sleep: got %v, want %v", (*slept)[0], Window)
	}
	// The clock advanced past the rollover and the window restarted.
	w, err := l.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if w.Count != 1 {
		t.Errorf("count after rollover: got %d, want 1", w.Count)
	}
	if time.Unix(w.WindowStartEpoch, 0).Before(start.Add(Window)) {
		t.Errorf("window did not roll over: start %d", w.WindowStartEpoch)
	}
}

func TestAcquire_WindowSurvivesRestart(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	path := filepath.Join(t.TempDir(), "ratelimit.json")

	l1 := New(path, 5)
	l1.Now = func() time.Time { return now }
	for i := 0; i < 4; i++ {
		if err := l1.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	// Simulated restart: a fresh limiter over the same document.
	l2 := New(path, 5)
	l2.Now = func() time.Time { return now.Add(time.Minute) }
	w, err := l2.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if w.Count != 4 || w.WindowStartEpoch != now.Unix() {
		t.Errorf("window lost across restart: %+v", w)
	}

	if err := l2.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	w, _ = l2.Peek()
	if w.Count != 5 {
		t.Errorf("count after restart acquire: got %d, want 5", w.Count)
	}
}

func TestAcquire_ExpiredWindowResets(t *testing.T) {
	l, now, _ := testLimiter(t, 2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(Window + time.Second)
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	w, _ := l.Peek()
	if w.Count != 1 {
		t.Errorf("count after expiry: got %d, want 1", w.Count)
	}
}

func TestAcquire_CancelledWhileWaiting(t *testing.T) {
	l, _, _ := testLimiter(t, 1)
	l.Sleep = sleepCtx // real sleep so cancellation applies

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected context error while waiting for rollover")
	}
}
