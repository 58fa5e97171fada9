package flood

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type backendFactory func(t *testing.T, clock *fakeClock) Backend

func newTestRedisBackend(t *testing.T, clock *fakeClock) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend, err := NewRedisBackend(client, "test:", clock.Now)
	require.NoError(t, err)
	return backend, mr
}

func backendFactories() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T, clock *fakeClock) Backend {
			return NewMemoryBackend(clock.Now)
		},
		"database": func(t *testing.T, clock *fakeClock) Backend {
			return newDatabaseBackend(t, &fakeEventStore{}, clock)
		},
		"redis": func(t *testing.T, clock *fakeClock) Backend {
			backend, _ := newTestRedisBackend(t, clock)
			return backend
		},
	}
}

func TestBackendContract(t *testing.T) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("threshold", func(t *testing.T) {
				ctx := context.Background()
				clock := newFakeClock()
				backend := factory(t, clock)

				for i := 0; i < 5; i++ {
					allowed, err := backend.IsAllowed(ctx, "user.failed_login_user", 5, 6*time.Hour, "42-10.0.0.1")
					require.NoError(t, err)
					require.True(t, allowed, "attempt %d", i)
					require.NoError(t, backend.Register(ctx, "user.failed_login_user", 6*time.Hour, "42-10.0.0.1"))
				}

				allowed, err := backend.IsAllowed(ctx, "user.failed_login_user", 5, 6*time.Hour, "42-10.0.0.1")
				require.NoError(t, err)
				assert.False(t, allowed)

				clock.Advance(6 * time.Hour)
				allowed, err = backend.IsAllowed(ctx, "user.failed_login_user", 5, 6*time.Hour, "42-10.0.0.1")
				require.NoError(t, err)
				assert.True(t, allowed, "events age out of the window")
			})

			t.Run("clear", func(t *testing.T) {
				ctx := context.Background()
				backend := factory(t, newFakeClock())

				require.NoError(t, backend.Register(ctx, "contact", time.Hour, "a"))
				require.NoError(t, backend.Register(ctx, "contact", time.Hour, "b"))
				require.NoError(t, backend.Clear(ctx, "contact", "a"))

				allowed, err := backend.IsAllowed(ctx, "contact", 1, time.Hour, "a")
				require.NoError(t, err)
				assert.True(t, allowed)

				allowed, err = backend.IsAllowed(ctx, "contact", 1, time.Hour, "b")
				require.NoError(t, err)
				assert.False(t, allowed)
			})

			t.Run("clear by prefix", func(t *testing.T) {
				ctx := context.Background()
				backend := factory(t, newFakeClock())

				for _, id := range []string{"7-10.0.0.1", "7-10.0.0.2", "70-10.0.0.1", "8-10.0.0.1"} {
					require.NoError(t, backend.Register(ctx, "user.failed_login_user", time.Hour, id))
				}
				require.NoError(t, backend.ClearByPrefix(ctx, "user.failed_login_user", "7-"))

				for id, want := range map[string]bool{
					"7-10.0.0.1":  true,
					"7-10.0.0.2":  true,
					"70-10.0.0.1": false,
					"8-10.0.0.1":  false,
				} {
					allowed, err := backend.IsAllowed(ctx, "user.failed_login_user", 1, time.Hour, id)
					require.NoError(t, err)
					assert.Equal(t, want, allowed, id)
				}
			})

			t.Run("prefix with glob characters is literal", func(t *testing.T) {
				ctx := context.Background()
				backend := factory(t, newFakeClock())

				require.NoError(t, backend.Register(ctx, "contact", time.Hour, "abc"))
				require.NoError(t, backend.ClearByPrefix(ctx, "contact", "*"))

				allowed, err := backend.IsAllowed(ctx, "contact", 1, time.Hour, "abc")
				require.NoError(t, err)
				assert.False(t, allowed)
			})

			t.Run("garbage collection", func(t *testing.T) {
				ctx := context.Background()
				clock := newFakeClock()
				backend := factory(t, clock)

				require.NoError(t, backend.Register(ctx, "short", time.Minute, "a"))
				require.NoError(t, backend.Register(ctx, "short", time.Minute, "b"))
				require.NoError(t, backend.Register(ctx, "long", 6*time.Hour, "a"))

				clock.Advance(2 * time.Minute)
				removed, err := backend.GarbageCollection(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(2), removed)

				allowed, err := backend.IsAllowed(ctx, "long", 1, 6*time.Hour, "a")
				require.NoError(t, err)
				assert.False(t, allowed)
			})

			t.Run("concurrent register", func(t *testing.T) {
				ctx := context.Background()
				backend := factory(t, newFakeClock())

				var g errgroup.Group
				for i := 0; i < 20; i++ {
					g.Go(func() error {
						return backend.Register(ctx, "contact", time.Hour, "shared")
					})
				}
				require.NoError(t, g.Wait())

				allowed, err := backend.IsAllowed(ctx, "contact", 20, time.Hour, "shared")
				require.NoError(t, err)
				assert.False(t, allowed)
				allowed, err = backend.IsAllowed(ctx, "contact", 21, time.Hour, "shared")
				require.NoError(t, err)
				assert.True(t, allowed)
			})

			t.Run("client ip fallback", func(t *testing.T) {
				backend := factory(t, newFakeClock())
				ctx := WithClientIP(context.Background(), "198.51.100.4")

				require.NoError(t, backend.Register(ctx, "contact", time.Hour, ""))
				allowed, err := backend.IsAllowed(context.Background(), "contact", 1, time.Hour, "198.51.100.4")
				require.NoError(t, err)
				assert.False(t, allowed)

				_, err = backend.IsAllowed(context.Background(), "contact", 1, time.Hour, "")
				require.ErrorIs(t, err, ErrNoIdentifier)
			})
		})
	}
}

func TestRedisBackend_KeyTTLTracksLongestWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend, mr := newTestRedisBackend(t, clock)

	require.NoError(t, backend.Register(ctx, "contact", 6*time.Hour, "a"))
	require.NoError(t, backend.Register(ctx, "contact", time.Minute, "a"))

	key := backend.key("contact", "a")
	assert.Equal(t, 6*time.Hour, mr.TTL(key))
}

func TestRedisBackend_KeysAreNamespaced(t *testing.T) {
	ctx := context.Background()
	backend, mr := newTestRedisBackend(t, newFakeClock())

	require.NoError(t, backend.Register(ctx, "a:b", time.Hour, "c"))
	require.NoError(t, backend.Register(ctx, "a", time.Hour, "b:c"))

	keys := mr.Keys()
	assert.ElementsMatch(t, []string{
		fmt.Sprintf("test:flood:%d:a:b:c", 3),
		fmt.Sprintf("test:flood:%d:a:b:c", 1),
	}, keys)

	allowed, err := backend.IsAllowed(ctx, "a:b", 2, time.Hour, "c")
	require.NoError(t, err)
	assert.True(t, allowed, "distinct (event, identifier) pairs must not share a key")
}

func TestRedisBackend_ErrorsSurface(t *testing.T) {
	backend, mr := newTestRedisBackend(t, newFakeClock())
	mr.Close()

	err := backend.Register(context.Background(), "contact", time.Hour, "a")
	require.Error(t, err)
}

func TestMemoryBackend_Events(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(newFakeClock().Now)

	require.NoError(t, backend.Register(ctx, "contact", time.Hour, "a"))
	events := backend.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "contact", events[0].Event)
}

func TestWindowSeconds(t *testing.T) {
	assert.Equal(t, int64(3600), windowSeconds(0))
	assert.Equal(t, int64(3600), windowSeconds(-time.Second))
	assert.Equal(t, int64(1), windowSeconds(time.Millisecond))
	assert.Equal(t, int64(90), windowSeconds(90*time.Second))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]\\`, escapeGlob(`a*b?c[d]\`))
}
