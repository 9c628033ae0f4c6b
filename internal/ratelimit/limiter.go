// Package ratelimit implements the Grunt Worker's in-process concurrency
// limit (worker_rate_limit): a Strategy interface with a semaphore-backed
// implementation and a no-op fallback, following the same Strategy /
// Null-Object pattern this module uses elsewhere, repurposed here from a
// Redis-backed per-user window into an in-process permit count per
// Grunt.
package ratelimit

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter is the Strategy interface: acquire a permit before polling for
// a new task, release it once the detached execution unit finishes.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// semaphoreLimiter bounds in-flight calls within a single Grunt to a
// fixed number of permits.
type semaphoreLimiter struct {
	sem *semaphore.Weighted
}

// NewSemaphoreLimiter returns a Limiter backed by a weighted semaphore
// with n permits.
func NewSemaphoreLimiter(n int) Limiter {
	return &semaphoreLimiter{sem: semaphore.NewWeighted(int64(n))}
}

func (l *semaphoreLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *semaphoreLimiter) Release() {
	l.sem.Release(1)
}

// noOpLimiter never blocks, the Null Object used when worker_rate_limit
// is -1 or unset.
type noOpLimiter struct{}

// NewNoOpLimiter returns a Limiter that never blocks.
func NewNoOpLimiter() Limiter {
	return &noOpLimiter{}
}

func (noOpLimiter) Acquire(ctx context.Context) error { return nil }
func (noOpLimiter) Release()                          {}

// New returns the Limiter appropriate for the given worker_rate_limit
// configuration value: n <= 0 disables the limit entirely (the Null
// Object), any positive n bounds concurrency to a semaphore with that
// many permits.
func New(workerRateLimit int) Limiter {
	if workerRateLimit <= 0 {
		return NewNoOpLimiter()
	}
	return NewSemaphoreLimiter(workerRateLimit)
}
