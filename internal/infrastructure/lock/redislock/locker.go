// Package redislock serialises namespace builds across processes with a Redis
// key per namespace.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

const (
	defaultTTL    = 2 * time.Minute
	releaseBudget = 5 * time.Second
)

// Both scripts act only while the key still holds our token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewClient opens a go-redis client for the lock.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
}

// Locker holds a lock key with a TTL and keeps extending it while the build
// runs, so a crashed holder frees the namespace after at most one TTL.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *Locker {
	if prefix == "" {
		prefix = "crag:build-lock:"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

func (l *Locker) Lock(ctx context.Context, namespace string) (func(), error) {
	key := l.prefix + namespace
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, domain.WrapKinds("lock "+namespace, fmt.Errorf("redis setnx: %w", err), domain.ErrTemporary)
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrBuildInProgress, "lock "+namespace, errors.New("namespace is being built"))
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseBudget)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				slog.Warn("build_lock_release_failed", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *Locker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseBudget)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				slog.Warn("build_lock_extend_failed", "key", key, "error", err)
				continue
			}
			if n == 0 {
				slog.Warn("build_lock_lost", "key", key)
				return
			}
		}
	}
}
