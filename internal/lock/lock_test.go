package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLockIsExclusivePerKey(t *testing.T) {
	t.Parallel()

	locker := NewMemory()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "agent-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			_ = unlock(context.Background())
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
	if len(locker.slots) != 0 {
		t.Fatalf("expected idle slots to be released, have %d", len(locker.slots))
	}
}

func TestMemoryLockHonoursContextAndKeys(t *testing.T) {
	t.Parallel()

	locker := NewMemory()
	unlock, err := locker.Lock(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	other, err := locker.Lock(context.Background(), "agent-2")
	if err != nil {
		t.Fatalf("independent key should not block: %v", err)
	}
	_ = other(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "agent-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	if err := unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := unlock(context.Background()); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("second unlock should report not held, got %v", err)
	}
}
