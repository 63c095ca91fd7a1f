package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"AgentVault/internal/lock"
)

func newTestLocker(t *testing.T, ttl time.Duration) *Locker {
	t.Helper()
	addr := os.Getenv("AGENTVAULT_TEST_REDIS")
	if addr == "" {
		t.Skip("AGENTVAULT_TEST_REDIS not set")
	}
	locker, err := NewLocker(context.Background(), LockerConfig{
		Address:      addr,
		Prefix:       "agentvault:test:" + uuid.NewString() + ":",
		TTL:          ttl,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	return locker
}

func TestLockerExclusive(t *testing.T) {
	locker := newTestLocker(t, 5*time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "agent-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(waitCtx, "agent-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second lock to time out, got %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	again, err := locker.Lock(ctx, "agent-1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = again(ctx)
}

func TestLockerExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	locker := newTestLocker(t, 50*time.Millisecond)
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "agent-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	fresh, err := locker.Lock(ctx, "agent-1")
	if err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
	if err := stale(ctx); !errors.Is(err, lock.ErrNotHeld) {
		t.Fatalf("stale release should report not held, got %v", err)
	}
	if err := fresh(ctx); err != nil {
		t.Fatalf("fresh release: %v", err)
	}
}
