// Package redislock keeps scheduled gdprvault jobs from running on two hosts at
// once. A retention check or execution sweep started from cron on every node of
// a cluster takes the lock first; the losers exit with a conflict.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hengadev/gdprvault"
)

// DefaultPrefix namespaces lock keys.
const DefaultPrefix = "gdprvault:lock"

// DefaultTTL bounds how long a crashed holder blocks the next run.
const DefaultTTL = 30 * time.Minute

// releaseScript deletes the key only while it still holds our token, so a lock
// that expired and was taken by another host is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of *redis.Client the locker needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Config holds the connection settings of the lock server.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Locker takes named job locks in redis.
type Locker struct {
	client Client
	prefix string
	ttl    time.Duration
	token  func() string
}

// New connects to the redis server in cfg and checks it answers.
func New(ctx context.Context, cfg Config) (*Locker, *redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("%w: redis address is required", gdprvault.ErrInvalidConfiguration)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("%w: redis ping %s: %v", gdprvault.ErrSecretUnavailable, cfg.Addr, err)
	}
	return NewLocker(rdb, cfg.Prefix, cfg.TTL), rdb, nil
}

// NewLocker wraps an existing client. Empty prefix and zero ttl take the defaults.
func NewLocker(client Client, prefix string, ttl time.Duration) *Locker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		token:  func() string { return uuid.NewString() },
	}
}

// Key returns the redis key guarding job.
func (l *Locker) Key(job string) string {
	return l.prefix + ":" + job
}

// Acquire takes the lock for job. It fails with ErrConflict when another holder
// has it. The returned release func is safe to call after the lock expired.
func (l *Locker) Acquire(ctx context.Context, job string) (func(context.Context) error, error) {
	if job == "" {
		return nil, fmt.Errorf("%w: job name is required", gdprvault.ErrValidation)
	}
	key, token := l.Key(job), l.token()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire %s: %v", gdprvault.ErrSecretUnavailable, key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is already running on another host", gdprvault.ErrConflict, job)
	}

	release := func(ctx context.Context) error {
		err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

// Run executes fn while holding the lock for job.
func (l *Locker) Run(ctx context.Context, job string, fn func(context.Context) error) (err error) {
	release, err := l.Acquire(ctx, job)
	if err != nil {
		return err
	}
	defer func() {
		// release even when ctx was cancelled mid-run
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}
