package transport

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is an adjustable clock for deterministic window expiry.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestLimiter(max int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewLimiter(LimiterConfig{Window: time.Minute, Max: max, Now: clock.Now}), clock
}

func TestLimiter_RejectsAtCap(t *testing.T) {
	l, _ := newTestLimiter(20)

	for i := 0; i < 20; i++ {
		if err := l.Allow("user-1"); err != nil {
			t.Fatalf("call %d should be allowed: %v", i+1, err)
		}
	}
	if err := l.Allow("user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("21st call should be rate limited, got %v", err)
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l, clock := newTestLimiter(20)

	for i := 0; i < 20; i++ {
		if err := l.Allow("user-1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Allow("user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rejection at cap")
	}

	clock.Advance(61 * time.Second)
	if err := l.Allow("user-1"); err != nil {
		t.Fatalf("call after window expiry should be allowed: %v", err)
	}
}

func TestLimiter_RejectionNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(2)

	if err := l.Allow("u"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(30 * time.Second)
	if err := l.Allow("u"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("u"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rejection at cap")
	}

	// The rejected call left no trace: once the first instant ages out, one
	// slot frees up even though a rejection happened in between.
	clock.Advance(31 * time.Second)
	if err := l.Allow("u"); err != nil {
		t.Fatalf("expected slot to free after first instant expired: %v", err)
	}
}

func TestLimiter_UsersIndependent(t *testing.T) {
	l, _ := newTestLimiter(1)

	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("user a should be at cap")
	}
	if err := l.Allow("b"); err != nil {
		t.Fatalf("user b has their own window: %v", err)
	}
}

func TestLimiter_Defaults(t *testing.T) {
	l := NewLimiter(LimiterConfig{})
	if l.window != defaultWindow {
		t.Errorf("expected window %v, got %v", defaultWindow, l.window)
	}
	if l.max != defaultMax {
		t.Errorf("expected max %d, got %d", defaultMax, l.max)
	}
}
