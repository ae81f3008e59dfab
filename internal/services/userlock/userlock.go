// Package userlock serializes mutating requests per user. Backed by a
// redis advisory lock when redis is up; a process-local semaphore map
// keeps single-instance deployments correct when it is not.
package userlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	redisrepo "github.com/waggleapp/backend/internal/repo/redis"
)

// ErrBusy surfaces only when a caller queued for longer than the wait
// budget. Ordinary contention is absorbed: the second request waits for
// the holder to finish and then runs.
var ErrBusy = errors.New("another request for this user is in flight")

const (
	defaultMaxWait = 10 * time.Second
	defaultPoll    = 50 * time.Millisecond
)

type distributedLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// lockEntry is a one-slot semaphore plus a refcount so the map entry can
// be dropped once the last waiter is gone.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

type Locker struct {
	dist distributedLock

	mu    sync.Mutex
	local map[string]*lockEntry

	maxWait time.Duration
	poll    time.Duration
}

// New builds a Locker. dist may be nil; the local map then carries the
// whole load.
func New(dist distributedLock) *Locker {
	return &Locker{
		dist:    dist,
		local:   make(map[string]*lockEntry),
		maxWait: defaultMaxWait,
		poll:    defaultPoll,
	}
}

// WithUserLock runs fn while holding the per-user lock. Contending
// callers queue until the holder releases, so concurrent requests for
// one user execute one after another rather than failing. ErrBusy is
// returned only when the wait budget runs out.
func (l *Locker) WithUserLock(ctx context.Context, userID int64, ttl time.Duration, fn func(ctx context.Context) error) error {
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}
	if fn == nil {
		return fmt.Errorf("lock body is required")
	}

	key := fmt.Sprintf("lock:user:%d", userID)
	deadline := time.Now().Add(l.maxWait)

	entry, err := l.lockLocal(ctx, key, deadline)
	if err != nil {
		return err
	}
	defer l.unlockLocal(key, entry)

	if l.dist != nil {
		token, err := l.lockDistributed(ctx, key, ttl, deadline)
		if err != nil {
			return err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = l.dist.Release(releaseCtx, key, token)
		}()
	}

	return fn(ctx)
}

func (l *Locker) lockLocal(ctx context.Context, key string, deadline time.Time) (*lockEntry, error) {
	l.mu.Lock()
	entry, ok := l.local[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.local[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	wait := time.NewTimer(time.Until(deadline))
	defer wait.Stop()

	select {
	case entry.sem <- struct{}{}:
		return entry, nil
	case <-wait.C:
		l.dropRef(key, entry)
		return nil, ErrBusy
	case <-ctx.Done():
		l.dropRef(key, entry)
		return nil, ctx.Err()
	}
}

func (l *Locker) unlockLocal(key string, entry *lockEntry) {
	<-entry.sem
	l.dropRef(key, entry)
}

func (l *Locker) dropRef(key string, entry *lockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.local, key)
	}
	l.mu.Unlock()
}

// lockDistributed polls the redis lock until it frees up, so contention
// across instances queues the same way local contention does.
func (l *Locker) lockDistributed(ctx context.Context, key string, ttl time.Duration, deadline time.Time) (string, error) {
	for {
		token, err := l.dist.Acquire(ctx, key, ttl)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, redisrepo.ErrLockHeld) {
			return "", fmt.Errorf("acquire user lock: %w", err)
		}
		if !time.Now().Add(l.poll).Before(deadline) {
			return "", ErrBusy
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
