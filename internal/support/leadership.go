package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leadershipRetryDelay = time.Second
	lockCallTimeout      = 5 * time.Second
)

var (
	ErrLeadershipLost = errors.New("support: leader lock lost")

	lockTokens atomic.Uint64

	// Both scripts only touch the key while it still holds our token.
	extendLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	dropLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RunWithLeader blocks until it holds the lock at key, then calls run with
// a context that is cancelled once the lock cannot be extended. It keeps
// competing for the lock until ctx is done.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if client == nil {
		return errors.New("support: leader lock needs a redis client")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	token := fmt.Sprintf("%s-%d-%d", hostname(), os.Getpid(), lockTokens.Add(1))

	for {
		acquired, err := client.SetNX(ctx, key, token, ttl).Result()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Warn("leader lock: acquire failed", "key", key, "error", err)
		case acquired:
			log.Debug("leader lock: acquired", "key", key)
			holdLock(ctx, client, key, token, ttl, run)
			log.Debug("leader lock: released", "key", key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leadershipRetryDelay):
		}
	}
}

// holdLock runs run while extending the lock every third of ttl.
func holdLock(ctx context.Context, client *redis.Client, key, token string, ttl time.Duration, run func(context.Context)) {
	leaderCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		ticker := time.NewTicker(max(ttl/3, time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-leaderCtx.Done():
				return
			case <-ticker.C:
				if err := lockCall(extendLock, client, key, token, ttl.Milliseconds()); err != nil {
					log.Warn("leader lock: extend failed", "key", key, "error", err)
					cancel(ErrLeadershipLost)
					return
				}
			}
		}
	}()

	run(leaderCtx)

	if err := lockCall(dropLock, client, key, token); err != nil && !errors.Is(err, ErrLeadershipLost) {
		log.Warn("leader lock: release failed", "key", key, "error", err)
	}
}

func lockCall(script *redis.Script, client *redis.Client, key, token string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockCallTimeout)
	defer cancel()

	res, err := script.Run(ctx, client, []string{key}, append([]any{token}, args...)...).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrLeadershipLost
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
