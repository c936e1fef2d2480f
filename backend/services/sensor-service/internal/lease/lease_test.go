package lease

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// fakeRedis keeps string keys in memory and understands the two lease scripts.
type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	key, token := keys[0], args[0].(string)
	if f.values[key] != token {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch {
	case strings.Contains(script, "PEXPIRE"):
		f.ttls[key] = time.Duration(args[1].(int64)) * time.Millisecond
	case strings.Contains(script, "DEL"):
		delete(f.values, key)
		delete(f.ttls, key)
	}
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, noScriptError{})
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedis) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

type noScriptError struct{}

func (noScriptError) Error() string { return "NOSCRIPT No matching script" }
func (noScriptError) RedisError()   {}

func TestSecondWriterIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()

	first := New(store, "sensor-ingest:writer", time.Minute)
	second := New(store, "sensor-ingest:writer", time.Minute)
	require.NotEqual(t, first.Token(), second.Token())

	require.NoError(t, first.Acquire(ctx))

	err := second.Acquire(ctx)
	require.True(t, errors.Is(err, ErrHeld))
	require.True(t, errors.Is(err, models.ErrRetryable))
	require.Contains(t, err.Error(), first.Token())

	// Release by a non-owner leaves the lease in place.
	require.NoError(t, second.Release(ctx))
	require.True(t, errors.Is(second.Acquire(ctx), ErrHeld))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Acquire(ctx))
}

func TestRenewRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()

	l := New(store, "k", 30*time.Second)
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Renew(ctx))
	require.Equal(t, 30*time.Second, store.ttls["k"])

	store.values["k"] = "someone-else"
	require.True(t, errors.Is(l.Renew(ctx), ErrLost))
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(newFakeRedis(), "k", 30*time.Millisecond)
	require.NoError(t, l.Acquire(ctx))

	done := make(chan error, 1)
	go func() { done <- l.KeepAlive(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("KeepAlive did not return after cancel")
	}
}
