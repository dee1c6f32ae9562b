package redislock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hengadev/gdprvault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps keys in memory and understands only the release script.
type fakeRedis struct {
	mu      sync.Mutex
	keys    map[string]string
	ttls    map[string]time.Duration
	setErr  error
	evalErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.keys[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}
	if script != releaseScript || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, errors.New("unexpected script"))
	}
	if f.keys[keys[0]] != args[0] {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.keys, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func TestNewLocker_Defaults(t *testing.T) {
	l := NewLocker(newFakeRedis(), "", 0)
	assert.Equal(t, DefaultTTL, l.ttl)
	assert.Equal(t, "gdprvault:lock:sweep", l.Key("sweep"))

	l = NewLocker(newFakeRedis(), "clinic-a", time.Minute)
	assert.Equal(t, "clinic-a:sweep", l.Key("sweep"))
	assert.Equal(t, time.Minute, l.ttl)
}

func TestNew_RequiresAddress(t *testing.T) {
	_, _, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, gdprvault.ErrInvalidConfiguration)
}

func TestLocker_Acquire(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	l := NewLocker(rdb, "", time.Minute)

	release, err := l.Acquire(ctx, "retention-check")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, rdb.ttls["gdprvault:lock:retention-check"])

	_, err = l.Acquire(ctx, "retention-check")
	assert.ErrorIs(t, err, gdprvault.ErrConflict)
	assert.True(t, gdprvault.IsRetryableError(err))

	// other jobs are independent
	releaseSweep, err := l.Acquire(ctx, "sweep")
	require.NoError(t, err)
	require.NoError(t, releaseSweep(ctx))

	require.NoError(t, release(ctx))
	assert.Empty(t, rdb.keys)

	_, err = l.Acquire(ctx, "retention-check")
	assert.NoError(t, err)
}

func TestLocker_ReleaseKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	l := NewLocker(rdb, "", time.Minute)

	release, err := l.Acquire(ctx, "sweep")
	require.NoError(t, err)

	// simulate expiry followed by another host taking the lock
	rdb.keys["gdprvault:lock:sweep"] = "other-host"
	require.NoError(t, release(ctx))
	assert.Equal(t, "other-host", rdb.keys["gdprvault:lock:sweep"])
}

func TestLocker_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty job", func(t *testing.T) {
		_, err := NewLocker(newFakeRedis(), "", 0).Acquire(ctx, "")
		assert.ErrorIs(t, err, gdprvault.ErrValidation)
	})

	t.Run("server down", func(t *testing.T) {
		rdb := newFakeRedis()
		rdb.setErr = errors.New("connection refused")
		_, err := NewLocker(rdb, "", 0).Acquire(ctx, "sweep")
		assert.ErrorIs(t, err, gdprvault.ErrSecretUnavailable)
	})

	t.Run("release failure", func(t *testing.T) {
		rdb := newFakeRedis()
		l := NewLocker(rdb, "", 0)
		release, err := l.Acquire(ctx, "sweep")
		require.NoError(t, err)
		rdb.evalErr = errors.New("connection reset")
		assert.ErrorContains(t, release(ctx), "connection reset")
	})
}

func TestLocker_Run(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	l := NewLocker(rdb, "", 0)

	ran := false
	err := l.Run(ctx, "sweep", func(ctx context.Context) error {
		ran = true
		_, err := l.Acquire(ctx, "sweep")
		assert.ErrorIs(t, err, gdprvault.ErrConflict)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Empty(t, rdb.keys)

	boom := errors.New("boom")
	err = l.Run(ctx, "sweep", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rdb.keys, "lock released after a failed job")

	cancelled, cancel := context.WithCancel(ctx)
	err = l.Run(cancelled, "sweep", func(context.Context) error {
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, rdb.keys, "lock released after cancellation")
}
