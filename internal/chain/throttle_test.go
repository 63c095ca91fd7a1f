package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

type blockingRPC struct {
	calls int
}

func (b *blockingRPC) RecencyMarker(ctx context.Context, _ string) (Marker, error) {
	b.calls++
	<-ctx.Done()
	return Marker{}, ctx.Err()
}

func (b *blockingRPC) Simulate(context.Context, *UnsignedTx) error { b.calls++; return nil }

func (b *blockingRPC) Submit(context.Context, *SignedTx) (string, error) {
	b.calls++
	return "sig", nil
}

func (b *blockingRPC) Balance(context.Context, string) (*big.Int, error) {
	b.calls++
	return big.NewInt(1), nil
}

func (b *blockingRPC) Close() {}

func TestThrottleAppliesTimeout(t *testing.T) {
	t.Parallel()

	rpc := Throttle(&blockingRPC{}, Limits{Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := rpc.RecencyMarker(context.Background(), "from")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not applied")
	}
}

func TestThrottleRateLimitsCalls(t *testing.T) {
	t.Parallel()

	inner := &blockingRPC{}
	rpc := Throttle(inner, Limits{RequestsPerSecond: 1, Burst: 1})

	if _, err := rpc.Balance(context.Background(), "addr"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := rpc.Balance(ctx, "addr"); err == nil {
		t.Fatal("expected second call to be refused while the bucket is empty")
	}
	if inner.calls != 1 {
		t.Fatalf("expected one call to reach the node, got %d", inner.calls)
	}
}

func TestThrottleDisabledReturnsSameRPC(t *testing.T) {
	t.Parallel()

	inner := &blockingRPC{}
	if Throttle(inner, Limits{}) != RPC(inner) {
		t.Fatal("expected zero limits to return the wrapped rpc unchanged")
	}
}
