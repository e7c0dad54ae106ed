package throttle

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestThrottle() (*Throttle, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(DefaultConfig(), WithClock(clock.Now)), clock
}

func TestThreshold(t *testing.T) {
	th, _ := newTestThrottle()
	const addr = "10.0.0.1"

	for i := 1; i < 5; i++ {
		remaining := th.RecordFailure(addr)
		if remaining != 5-i {
			t.Errorf("after %d failures expected %d remaining, got %d", i, 5-i, remaining)
		}
		if blocked, _ := th.IsBlocked(addr); blocked {
			t.Fatalf("blocked after only %d failures", i)
		}
	}

	if remaining := th.RecordFailure(addr); remaining != 0 {
		t.Errorf("expected 0 remaining at threshold, got %d", remaining)
	}
	blocked, secs := th.IsBlocked(addr)
	if !blocked {
		t.Fatal("expected address to be blocked after 5 failures")
	}
	if secs != 900 {
		t.Errorf("expected 900s remaining, got %d", secs)
	}
}

func TestBlockExpiryClearsHistory(t *testing.T) {
	th, clock := newTestThrottle()
	const addr = "10.0.0.2"

	for i := 0; i < 5; i++ {
		th.RecordFailure(addr)
	}
	clock.Advance(899 * time.Second)
	if blocked, secs := th.IsBlocked(addr); !blocked || secs != 1 {
		t.Errorf("expected blocked with 1s left, got %v/%d", blocked, secs)
	}

	clock.Advance(time.Second)
	if blocked, _ := th.IsBlocked(addr); blocked {
		t.Fatal("block should expire after the block duration")
	}

	// Prior failures must no longer count.
	if remaining := th.RecordFailure(addr); remaining != 4 {
		t.Errorf("expected fresh window with 4 remaining, got %d", remaining)
	}
}

func TestWindowPrunesOldFailures(t *testing.T) {
	th, clock := newTestThrottle()
	const addr = "10.0.0.3"

	for i := 0; i < 4; i++ {
		th.RecordFailure(addr)
	}
	clock.Advance(301 * time.Second)

	if remaining := th.RecordFailure(addr); remaining != 4 {
		t.Errorf("old failures should be pruned, expected 4 remaining, got %d", remaining)
	}
	if blocked, _ := th.IsBlocked(addr); blocked {
		t.Error("should not be blocked when failures span more than the window")
	}
}

func TestRecordSuccessClears(t *testing.T) {
	th, _ := newTestThrottle()
	const addr = "10.0.0.4"

	for i := 0; i < 5; i++ {
		th.RecordFailure(addr)
	}
	th.RecordSuccess(addr)

	if blocked, _ := th.IsBlocked(addr); blocked {
		t.Error("RecordSuccess should clear the block")
	}
	if got := th.RecordFailure(addr); got != 4 {
		t.Errorf("expected a fresh window after success, got %d remaining", got)
	}
}

func TestAddressesAreIndependent(t *testing.T) {
	th, _ := newTestThrottle()

	for i := 0; i < 5; i++ {
		th.RecordFailure("a")
	}
	if blocked, _ := th.IsBlocked("b"); blocked {
		t.Error("blocking one address must not affect another")
	}
	if got := th.RecordFailure("b"); got != 4 {
		t.Errorf("expected 4 remaining for b after its first failure, got %d", got)
	}
}

func TestConcurrentFailures(t *testing.T) {
	th, _ := newTestThrottle()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.RecordFailure("shared")
		}()
	}
	wg.Wait()

	if blocked, _ := th.IsBlocked("shared"); !blocked {
		t.Error("expected address to be blocked after concurrent failures")
	}
}
