package userlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	redisrepo "github.com/waggleapp/backend/internal/repo/redis"
)

type distStub struct {
	mu       sync.Mutex
	acquires int
	releases int
	held     map[string]string
	err      error
}

func newDistStub() *distStub {
	return &distStub{held: make(map[string]string)}
}

func (s *distStub) Acquire(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if _, ok := s.held[key]; ok {
		return "", redisrepo.ErrLockHeld
	}
	s.acquires++
	token := "tok"
	s.held[key] = token
	return token, nil
}

func (s *distStub) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] == token {
		delete(s.held, key)
		s.releases++
	}
	return nil
}

func (s *distStub) drop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
}

func TestWithUserLockSecondCallerWaitsForHolder(t *testing.T) {
	locker := New(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	secondDone := make(chan error, 1)

	go func() {
		firstDone <- locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	go func() {
		secondDone <- locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
			return nil
		})
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second caller must queue behind the holder, returned early with %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first holder failed: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second caller must run once the holder releases: %v", err)
	}
}

func TestWithUserLockTimesOutWhileQueueing(t *testing.T) {
	locker := New(nil)
	locker.maxWait = 30 * time.Millisecond

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	if err := locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
		return nil
	}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy after the wait budget, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first holder failed: %v", err)
	}
}

func TestWithUserLockCancelledContextStopsQueueing(t *testing.T) {
	locker := New(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := locker.WithUserLock(ctx, 101, time.Second, func(context.Context) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the context error while queueing, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first holder failed: %v", err)
	}
}

func TestWithUserLockDifferentUsersDoNotContend(t *testing.T) {
	locker := New(nil)

	err := locker.WithUserLock(context.Background(), 101, time.Second, func(ctx context.Context) error {
		return locker.WithUserLock(ctx, 202, time.Second, func(context.Context) error {
			return nil
		})
	})
	if err != nil {
		t.Fatalf("locks for different users must be independent: %v", err)
	}
}

func TestWithUserLockWaitsOutDistributedContention(t *testing.T) {
	dist := newDistStub()
	dist.held["lock:user:101"] = "other-token"

	locker := New(dist)
	locker.maxWait = 500 * time.Millisecond
	locker.poll = 5 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		dist.drop("lock:user:101")
	}()

	ran := false
	if err := locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("caller must acquire once the remote holder releases: %v", err)
	}
	if !ran || dist.acquires != 1 {
		t.Fatalf("expected one acquisition after the wait, ran=%v acquires=%d", ran, dist.acquires)
	}
}

func TestWithUserLockDistributedWaitBudgetSurfacesBusy(t *testing.T) {
	dist := newDistStub()
	dist.held["lock:user:101"] = "other-token"

	locker := New(dist)
	locker.maxWait = 30 * time.Millisecond
	locker.poll = 5 * time.Millisecond

	if err := locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
		return nil
	}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy when the remote lock never frees, got %v", err)
	}
}

func TestWithUserLockReleasesDistributedLock(t *testing.T) {
	dist := newDistStub()
	locker := New(dist)

	for i := 0; i < 2; i++ {
		if err := locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
			return nil
		}); err != nil {
			t.Fatalf("run #%d: %v", i+1, err)
		}
	}

	if dist.acquires != 2 || dist.releases != 2 {
		t.Fatalf("expected 2 acquire/release pairs, got %d/%d", dist.acquires, dist.releases)
	}
}

func TestWithUserLockBodyErrorPassesThrough(t *testing.T) {
	locker := New(newDistStub())
	want := errors.New("body failed")

	if err := locker.WithUserLock(context.Background(), 101, time.Second, func(context.Context) error {
		return want
	}); !errors.Is(err, want) {
		t.Fatalf("expected the body error, got %v", err)
	}
}
