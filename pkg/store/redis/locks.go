package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rmax-ai/psyflow/pkg/store"
)

// The key expires on its own, so a daemon that dies mid-compile never
// blocks the experiment past the ttl.
var (
	lockScript = redis.NewScript(`
		if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
			return 1
		end
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			redis.call("PEXPIRE", KEYS[1], ARGV[2])
			return 1
		end
		return 0
	`)
	unlockScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
)

// CompileLocker shares compile locks between daemons through Redis.
type CompileLocker struct {
	client *redis.Client
}

// NewCompileLocker creates a locker on client.
func NewCompileLocker(client *redis.Client) *CompileLocker {
	return &CompileLocker{client: client}
}

func (l *CompileLocker) makeKey(experimentID string) string {
	return fmt.Sprintf("psyflow:compile-lock:%s", experimentID)
}

// LockCompile takes or extends the lock in one round trip.
func (l *CompileLocker) LockCompile(ctx context.Context, experimentID, holder string, ttl time.Duration) (bool, error) {
	n, err := lockScript.Run(ctx, l.client, []string{l.makeKey(experimentID)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to lock compile of %s: %w", experimentID, err)
	}
	return n == 1, nil
}

func (l *CompileLocker) UnlockCompile(ctx context.Context, experimentID, holder string) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.makeKey(experimentID)}, holder).Err(); err != nil {
		return fmt.Errorf("failed to unlock compile of %s: %w", experimentID, err)
	}
	return nil
}

func (l *CompileLocker) CompileLockOf(ctx context.Context, experimentID string) (*store.CompileLock, error) {
	key := l.makeKey(experimentID)

	pipe := l.client.Pipeline()
	holder := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read compile lock of %s: %w", experimentID, err)
	}
	if errors.Is(holder.Err(), redis.Nil) {
		return nil, nil
	}

	return &store.CompileLock{
		ExperimentID: experimentID,
		Holder:       holder.Val(),
		ExpiresAt:    time.Now().Add(ttl.Val()),
	}, nil
}
