package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wichananm65/storefront-backend/internal/apperr"
)

// MemoryLimiter is a fixed-window counter per key.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	start time.Time
	count int
}

func NewMemoryLimiter(limit int, window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	if limit <= 0 {
		limit = 1
	}
	return &MemoryLimiter{limit: limit, window: window, now: now, windows: make(map[string]*fixedWindow)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.sweep(now)
		w = &fixedWindow{start: now}
		l.windows[key] = w
	}
	w.count++
	if w.count > l.limit {
		return Decision{Allowed: false, RetryAfter: w.start.Add(l.window).Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - w.count}, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}

// MemoryGuard keeps in-progress markers in process memory.
type MemoryGuard struct {
	now func() time.Time

	mu    sync.Mutex
	marks map[string]mark
}

type mark struct {
	token     string
	expiresAt time.Time
}

func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{now: now, marks: make(map[string]mark)}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if m, ok := g.marks[key]; ok && now.Before(m.expiresAt) {
		return nil, duplicateTransaction()
	}
	token := uuid.NewString()
	g.marks[key] = mark{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if m, ok := g.marks[key]; ok && m.token == token {
				delete(g.marks, key)
			}
		})
	}, nil
}

func duplicateTransaction() error {
	return apperr.Conflict(apperr.CodeDuplicateTransaction, "Transaction already in progress. Please wait before retrying.")
}

// MemoryCache is a TTL map.
type MemoryCache struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{now: now, entries: make(map[string]cacheEntry)}
}

func (c *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", nil
	}
	now := c.now()
	if now.Before(e.expiresAt) {
		return e.value, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a Set may have replaced the entry since the read
	if cur, ok := c.entries[key]; ok && now.Before(cur.expiresAt) {
		return cur.value, nil
	}
	delete(c.entries, key)
	return "", nil
}
