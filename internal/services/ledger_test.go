package services

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestRetryLedger(t *testing.T) {
	t.Run("Suppresses After Too Many Failures", func(t *testing.T) {
		clock := newFakeClock()
		l := NewRetryLedger(clock.Now)

		for i := 1; i <= maxStatusRetries; i++ {
			st := l.Failure("a")
			if st.Retries != i || !st.SuppressUntil.IsZero() {
				t.Fatalf("failure %d: unexpected state %+v", i, st)
			}
		}

		st := l.Failure("a")
		if want := clock.Now().Add(suppressWindow); !st.SuppressUntil.Equal(want) {
			t.Errorf("expected suppression until %v, got %v", want, st.SuppressUntil)
		}
		if l.Allow("a") {
			t.Error("expected polls to be suppressed")
		}
		if !l.Allow("b") {
			t.Error("other names should not be affected")
		}
	})

	t.Run("Resets After Deadline", func(t *testing.T) {
		clock := newFakeClock()
		l := NewRetryLedger(clock.Now)
		for range maxStatusRetries + 1 {
			l.Failure("a")
		}

		clock.Advance(suppressWindow - time.Second)
		if l.Allow("a") {
			t.Error("expected suppression before the deadline")
		}

		clock.Advance(2 * time.Second)
		if !l.Allow("a") {
			t.Fatal("expected poll to be allowed after the deadline")
		}
		if st, _ := l.State("a"); st.Retries != 0 || !st.SuppressUntil.IsZero() {
			t.Errorf("expected reset entry, got %+v", st)
		}
	})

	t.Run("Success And Clear", func(t *testing.T) {
		l := NewRetryLedger(nil)
		l.Failure("a")
		l.Success("a")
		if st, ok := l.State("a"); !ok || st.Retries != 0 {
			t.Errorf("expected zeroed entry after success, got %+v (present=%v)", st, ok)
		}

		l.Clear("a")
		if _, ok := l.State("a"); ok {
			t.Error("expected entry to be dropped")
		}
	})
}
