package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"AgentVault/internal/lock"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease never frees a lock now owned by another replica.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*Locker)(nil)

// LockerConfig 描述 Redis 分布式锁的连接参数。
type LockerConfig struct {
	Address      string
	Password     string
	DB           int
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

// Locker implements lock.Locker with SET NX PX leases.
type Locker struct {
	client   goredis.UniversalClient
	prefix   string
	ttl      time.Duration
	interval time.Duration
	owned    bool
}

// NewLocker dials Redis and verifies the connection.
func NewLocker(ctx context.Context, cfg LockerConfig) (*Locker, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	l := NewLockerWithClient(client, cfg)
	l.owned = true
	return l, nil
}

// NewLockerWithClient wraps an existing client; Close leaves it open.
func NewLockerWithClient(client goredis.UniversalClient, cfg LockerConfig) *Locker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentvault:lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, interval: interval}
}

// Lock polls until the lease is acquired or ctx is done. The lease expires
// after the configured TTL even if the holder dies.
func (l *Locker) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("Redis 获取锁失败: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("Redis 释放锁失败: %w", err)
		}
		if released == 0 {
			return lock.ErrNotHeld
		}
		return nil
	}, nil
}

// Close releases the client if the locker created it.
func (l *Locker) Close() error {
	if l.owned {
		return l.client.Close()
	}
	return nil
}
