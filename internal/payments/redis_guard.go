package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLockClient is the minimal client surface used by RedisGuard.
type RedisLockClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Extends the lease only while it still holds our token.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// RedisGuard is a PurchaseGuard shared by every service replica. The lease
// expires after ttl so a crashed holder cannot block a user forever, and is
// renewed every ttl/3 while the holder is alive.
type RedisGuard struct {
	client     RedisLockClient
	keyPrefix  string
	ttl        time.Duration
	renewEvery time.Duration
	logger     *zap.Logger
	newToken   func() string
}

// NewRedisGuard constructs a RedisGuard. A non-positive ttl defaults to two minutes.
func NewRedisGuard(client RedisLockClient, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{
		client:     client,
		keyPrefix:  "purchase:lock:",
		ttl:        ttl,
		renewEvery: max(ttl/3, time.Millisecond),
		logger:     logger,
		newToken:   func() string { return uuid.NewString() },
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, userID string) (func(), error) {
	key := g.keyPrefix + userID
	token := g.newToken()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire purchase lock: %w", err)
	}
	if !ok {
		return nil, ErrPurchaseInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := g.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
				g.logger.Warn("purchase.guard.release_failed", zap.String("user_id", userID), zap.Error(err))
			}
		})
	}, nil
}

func (g *RedisGuard) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.renewEvery)
		renewed, err := g.client.Eval(ctx, renewScript, []string{key}, token, g.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			g.logger.Warn("purchase.guard.renew_failed", zap.String("key", key), zap.Error(err))
		case renewed == 0:
			g.logger.Warn("purchase.guard.lease_lost", zap.String("key", key))
			return
		}
	}
}
