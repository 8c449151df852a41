package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(cfg Config) (*ConfigCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewConfigCache(cfg).WithClock(clock.Now), clock
}

func countingLoader(calls *int32, value func(n int32) any) Loader {
	return func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(calls, 1)
		return value(n), nil
	}
}

func TestGetCachesUntilExpiry(t *testing.T) {
	c, clock := newTestCache(Config{})
	var calls int32
	loader := countingLoader(&calls, func(n int32) any { return n })
	ctx := context.Background()

	v, err := c.Get(ctx, "admin_emails", loader)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	v, err = c.Get(ctx, "admin_emails", loader)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	clock.Advance(DefaultTTL + time.Second)
	v, err = c.Get(ctx, "admin_emails", loader)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestInvalidateForcesReload(t *testing.T) {
	c, _ := newTestCache(Config{})
	var calls int32
	loader := countingLoader(&calls, func(n int32) any { return []string{"v", string(rune('0' + n))} })
	ctx := context.Background()

	_, err := c.Get(ctx, "admin_emails", loader)
	require.NoError(t, err)
	c.Invalidate("admin_emails")

	v, err := c.Get(ctx, "admin_emails", loader)
	require.NoError(t, err)
	assert.Equal(t, []string{"v", "2"}, v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClassTTLOverrides(t *testing.T) {
	c, clock := newTestCache(Config{ClassTTL: map[string]time.Duration{"admin_emails": time.Minute}})
	var adminCalls, permCalls int32
	ctx := context.Background()

	_, _ = c.Get(ctx, "admin_emails", countingLoader(&adminCalls, func(n int32) any { return n }))
	_, _ = c.Get(ctx, "role_permissions:admin", countingLoader(&permCalls, func(n int32) any { return n }))

	clock.Advance(2 * time.Minute)
	_, _ = c.Get(ctx, "admin_emails", countingLoader(&adminCalls, func(n int32) any { return n }))
	_, _ = c.Get(ctx, "role_permissions:admin", countingLoader(&permCalls, func(n int32) any { return n }))

	assert.Equal(t, int32(2), adminCalls)
	assert.Equal(t, int32(1), permCalls)
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	c, _ := newTestCache(Config{})
	boom := errors.New("boom")
	_, err := c.Get(context.Background(), "k", func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.Get(context.Background(), "k", func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestInvalidateDuringLoadDiscardsStaleValue(t *testing.T) {
	c, _ := newTestCache(Config{})
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(ctx, "admin_emails", func(context.Context) (any, error) {
			close(started)
			<-release
			return "stale", nil
		})
	}()
	<-started
	c.Invalidate("admin_emails")
	close(release)
	<-done

	v, err := c.Get(ctx, "admin_emails", func(context.Context) (any, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestInvalidationDoesNotRetainKeys(t *testing.T) {
	c, _ := newTestCache(Config{})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		key := "user_role:" + strconv.Itoa(i)
		_, err := c.Get(ctx, key, func(context.Context) (any, error) { return "player", nil })
		require.NoError(t, err)
		c.Invalidate(key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.generations)
	assert.Empty(t, c.loading)
	assert.Empty(t, c.entries)
}

func TestClearAndPrefixInvalidation(t *testing.T) {
	c, _ := newTestCache(Config{})
	ctx := context.Background()
	for _, k := range []string{"role_permissions:admin", "role_permissions:cfo", "admin_emails"} {
		_, err := c.Get(ctx, k, func(context.Context) (any, error) { return 1, nil })
		require.NoError(t, err)
	}
	c.InvalidatePrefix("role_permissions:")
	assert.Equal(t, 1, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentMissesShareLoad(t *testing.T) {
	c, _ := newTestCache(Config{})
	var calls int32
	gate := make(chan struct{})
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-gate
		return "v", nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", loader)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestFetchTyped(t *testing.T) {
	c, _ := newTestCache(Config{})
	got, err := Fetch(context.Background(), c, "admin_emails", func(context.Context) ([]string, error) {
		return []string{"a@x.com"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, got)
}

func TestKeyClass(t *testing.T) {
	assert.Equal(t, "role_permissions", KeyClass("role_permissions:admin"))
	assert.Equal(t, "admin_emails", KeyClass("admin_emails"))
}
