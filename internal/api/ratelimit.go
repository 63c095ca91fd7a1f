package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	xerrors "AgentVault/internal/errors"
)

const codeRateLimited xerrors.Code = "RATE_LIMITED"

func init() {
	xerrors.Register(codeRateLimited, xerrors.Attributes{
		Message:   "too many requests",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	statusByCode[codeRateLimited] = http.StatusTooManyRequests
}

// RateLimit configures the per-client token bucket. A zero rate disables it.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

const maxTrackedClients = 10000

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per client, keyed by bearer token digest
// or remote host.
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	capacity int
	clients  map[string]*clientLimiter
}

func newLimiterSet(cfg RateLimit) *limiterSet {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &limiterSet{
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		capacity: maxTrackedClients,
		clients:  make(map[string]*clientLimiter),
	}
}

func (l *limiterSet) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= l.capacity {
			l.prune(now)
		}
		if len(l.clients) >= l.capacity {
			l.evictOldest()
		}
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// prune drops clients idle long enough for their bucket to have refilled.
func (l *limiterSet) prune(now time.Time) {
	idle := time.Duration(float64(l.burst)/float64(l.limit)*float64(time.Second)) + time.Minute
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > idle {
			delete(l.clients, key)
		}
	}
}

// evictOldest drops the least recently seen client when every tracked
// client is still active.
func (l *limiterSet) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, c := range l.clients {
		if oldestKey == "" || c.lastSeen.Before(oldest) {
			oldestKey, oldest = key, c.lastSeen
		}
	}
	delete(l.clients, oldestKey)
}

func clientKey(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		sum := sha256.Sum256([]byte(authz))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func (l *limiterSet) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r), time.Now()) {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(1/float64(l.limit)))))
			writeError(w, r, xerrors.New(codeRateLimited, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
