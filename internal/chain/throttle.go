package chain

import (
	"context"
	"math/big"
	"time"

	"golang.org/x/time/rate"
)

// Limits bounds how hard and how long a daemon leans on one RPC endpoint.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

type throttled struct {
	next    RPC
	limiter *rate.Limiter
	timeout time.Duration
}

// Throttle wraps rpc so every call waits for a rate token and runs under a
// per-call timeout. Zero limits disable the corresponding bound.
func Throttle(rpc RPC, limits Limits) RPC {
	if limits.RequestsPerSecond <= 0 && limits.Timeout <= 0 {
		return rpc
	}
	t := &throttled{next: rpc, timeout: limits.Timeout}
	if limits.RequestsPerSecond > 0 {
		burst := limits.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), burst)
	}
	return t
}

func (t *throttled) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if t.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

func (t *throttled) RecencyMarker(ctx context.Context, from string) (Marker, error) {
	ctx, cancel, err := t.begin(ctx)
	if err != nil {
		return Marker{}, err
	}
	defer cancel()
	return t.next.RecencyMarker(ctx, from)
}

func (t *throttled) Simulate(ctx context.Context, tx *UnsignedTx) error {
	ctx, cancel, err := t.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return t.next.Simulate(ctx, tx)
}

func (t *throttled) Submit(ctx context.Context, tx *SignedTx) (string, error) {
	ctx, cancel, err := t.begin(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	return t.next.Submit(ctx, tx)
}

func (t *throttled) Balance(ctx context.Context, address string) (*big.Int, error) {
	ctx, cancel, err := t.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return t.next.Balance(ctx, address)
}

func (t *throttled) Close() {
	t.next.Close()
}
