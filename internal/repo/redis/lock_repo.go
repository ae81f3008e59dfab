package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("lock is held by another request")

// releaseScript deletes the key only when it still carries our token, so
// a lock that expired and was re-acquired by someone else is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// LockRepo implements a per-key advisory lock on SET NX PX.
type LockRepo struct {
	client  *redis.Client
	release *redis.Script
}

func NewLockRepo(client *redis.Client) *LockRepo {
	return &LockRepo{
		client:  client,
		release: redis.NewScript(releaseScript),
	}
}

// Acquire takes the lock or returns ErrLockHeld. The returned token must
// be passed back to Release.
func (r *LockRepo) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return "", ErrLockHeld
	}

	return token, nil
}

func (r *LockRepo) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return fmt.Errorf("lock key and token are required")
	}

	if err := r.release.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}

	return nil
}
