package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Quota is the outcome of one rate limit decision.
type Quota struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// LimitStore counts requests per key. Implementations must be safe for
// concurrent use.
type LimitStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Quota, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max requests per Window and key.
	Max    int
	Window time.Duration
	// KeyFunc extracts the key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Store defaults to an in-process sliding window store.
	Store LimitStore
}

// RateLimit rejects requests over the quota with 429 and the JSON error
// envelope. Every response carries the X-RateLimit-* headers. When the store
// fails the request is let through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q, err := cfg.Store.Take(r.Context(), cfg.KeyFunc(r), cfg.Max, cfg.Window)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit store failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(q.ResetAt.Unix(), 10))

			if !q.Allowed {
				retry := max(time.Until(q.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys by the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// MemoryStore is a sliding window counter kept in process memory. The
// previous window is weighted by how much of it still overlaps the sliding
// window.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window), now: time.Now}
}

// Take implements LimitStore.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, size time.Duration) (Quota, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{currStart: now.Truncate(size)}
		s.windows[key] = w
	}
	if elapsed := now.Sub(w.currStart); elapsed >= size {
		w.prev = w.curr
		if elapsed >= 2*size {
			w.prev = 0
		}
		w.curr = 0
		w.currStart = now.Truncate(size)
	}

	overlap := max(1-now.Sub(w.currStart).Seconds()/size.Seconds(), 0)
	used := w.prev*overlap + w.curr
	q := Quota{ResetAt: w.currStart.Add(size)}
	if used >= float64(limit) {
		return q, nil
	}

	w.curr++
	q.Allowed = true
	q.Remaining = max(int(float64(limit)-used-1), 0)
	return q, nil
}

// Evict drops keys idle for two windows.
func (s *MemoryStore) Evict(size time.Duration) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if now.Sub(w.currStart) >= 2*size {
			delete(s.windows, key)
		}
	}
}

// RunEviction calls Evict every two windows until ctx is done.
func (s *MemoryStore) RunEviction(ctx context.Context, size time.Duration) {
	ticker := time.NewTicker(2 * size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict(size)
		}
	}
}
