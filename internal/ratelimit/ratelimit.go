// Package ratelimit throttles payment initiation per actor, guards against
// two attempts for the same order being in flight at once, and caches
// successful initiation payloads for a short time.
//
// Each concern has an in-memory backend for a single instance and a Redis
// backend for deployments running more than one.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the wait up to whole seconds, minimum one.
func (d Decision) RetryAfterSeconds() int {
	s := int((d.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Guard marks a key as in progress. Acquire fails with a conflict while
// another holder owns the key; release must be called on every path.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Cache stores opaque string payloads. Get returns "" on a miss.
type Cache interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Key joins parts into a namespaced key, e.g. Key("payu", "dedup", "7", "ORD-1").
func Key(service, operation string, parts ...any) string {
	k := fmt.Sprintf("%s:%s", service, operation)
	for _, p := range parts {
		k += fmt.Sprintf(":%v", p)
	}
	return k
}
