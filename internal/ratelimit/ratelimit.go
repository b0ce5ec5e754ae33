// Package ratelimit implements fixed-window request counting for the webhook endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store counts hits per key inside a window.
type Store interface {
	// Incr adds one hit and returns the count in the current window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type counter struct {
	count   int64
	expires time.Time
}

// MemoryStore is a per-process Store. Expired windows are swept on write.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*counter
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*counter), now: time.Now}
}

func (m *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) > window {
		for k, c := range m.counters {
			if !now.Before(c.expires) {
				delete(m.counters, k)
			}
		}
		m.lastSweep = now
	}

	c, ok := m.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &counter{expires: now.Add(window)}
		m.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Len reports how many windows are tracked.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// RedisStore shares counters across instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, r.prefix+key)
		pipe.ExpireNX(ctx, r.prefix+key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	return incr.Val(), nil
}

// Option configures Middleware.
type Option func(*keyer)

// WithTrustedProxies makes X-Forwarded-For count only when the direct peer is one of
// these prefixes. Without it the header is ignored.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(k *keyer) { k.trusted = append(k.trusted, prefixes...) }
}

// ParseTrustedProxies accepts CIDRs or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Middleware rejects callers above limit hits per window with 429. Store errors let
// the request through.
func Middleware(store Store, name string, limit int64, window time.Duration, opts ...Option) func(http.Handler) http.Handler {
	k := &keyer{}
	for _, opt := range opts {
		opt(k)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := name + ":" + k.clientIP(r)
			n, err := store.Incr(r.Context(), key, window)
			if err != nil {
				slog.Error("Rate limiter unavailable", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if n > limit {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type keyer struct {
	trusted []netip.Prefix
}

func (k *keyer) isTrusted(addr netip.Addr) bool {
	for _, p := range k.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the peer address, or, behind trusted proxies, the right-most
// X-Forwarded-For hop that is not itself a trusted proxy.
func (k *keyer) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !k.isTrusted(peer.Unmap()) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			// Anything left of a garbled hop is caller-controlled.
			return host
		}
		if !k.isTrusted(addr.Unmap()) {
			return addr.Unmap().String()
		}
	}
	return host
}
