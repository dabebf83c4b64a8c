package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/harvest/testkit"
	"github.com/ceyewan/harvest/xerrors"
)

type payload struct {
	Name  string   `json:"name" msgpack:"name"`
	Count int      `json:"count" msgpack:"count"`
	Tags  []string `json:"tags" msgpack:"tags"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSQLCache(t *testing.T, serializer string, clock *fakeClock) Cache {
	t.Helper()
	c, err := New(&Config{Backend: BackendSQLite, Prefix: "test:", Serializer: serializer},
		WithDB(testkit.NewDB(t)),
		WithLogger(testkit.NewLogger()),
		WithMeter(testkit.NewMeter(t)),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newMemoryCache(t *testing.T, serializer string) Cache {
	t.Helper()
	c, err := New(&Config{Backend: BackendMemory, Serializer: serializer, Capacity: 100},
		WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&Config{Backend: "disk"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{Backend: BackendSQLite})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{Backend: BackendRedis})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{Backend: BackendMemory, Serializer: "gob"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	for _, serializer := range []string{"json", "msgpack"} {
		backends := map[string]Cache{
			"sqlite": newSQLCache(t, serializer, clock),
			"memory": newMemoryCache(t, serializer),
		}
		for name, c := range backends {
			t.Run(name+"/"+serializer, func(t *testing.T) {
				ctx := context.Background()
				want := payload{Name: "octo/repo", Count: 3, Tags: []string{"a", "b"}}

				var got payload
				found, err := c.Get(ctx, "k", &got)
				require.NoError(t, err)
				assert.False(t, found)

				require.NoError(t, c.Set(ctx, "k", want, time.Hour))
				found, err = c.Get(ctx, "k", &got)
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, want, got)

				// 覆盖写
				want.Count = 4
				require.NoError(t, c.Set(ctx, "k", want, 0))
				found, err = c.Get(ctx, "k", &got)
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, 4, got.Count)

				require.NoError(t, c.Delete(ctx, "k"))
				found, err = c.Get(ctx, "k", &got)
				require.NoError(t, err)
				assert.False(t, found)

				require.NoError(t, c.Delete(ctx, "never-set"))
			})
		}
	}
}

func TestSQLCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newSQLCache(t, "json", clock)

	require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, c.Set(ctx, "long", "v", time.Hour))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))

	clock.Advance(2 * time.Minute)

	var v string
	found, err := c.Get(ctx, "short", &v)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = c.Get(ctx, "long", &v)
	require.NoError(t, err)
	assert.True(t, found)

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(100 * 24 * time.Hour)
	found, err = c.Get(ctx, "forever", &v)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSQLCache_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testkit.NewPersistentSQLiteConfig(t)

	first, err := New(&Config{Backend: BackendSQLite, Serializer: "msgpack"},
		WithDB(testkit.NewDBFrom(t, testkit.ReopenSQLite(t, cfg))))
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "state", payload{Name: "x", Count: 7}, time.Hour))

	second, err := New(&Config{Backend: BackendSQLite, Serializer: "msgpack"},
		WithDB(testkit.NewDBFrom(t, testkit.ReopenSQLite(t, cfg))))
	require.NoError(t, err)

	var got payload
	found, err := second.Get(ctx, "state", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7, got.Count)
}

func TestGet_UndecodableIsMiss(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, "json")

	require.NoError(t, c.Set(ctx, "k", "not an object", 0))
	var got payload
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := newMemoryCache(t, "json")

	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	var v string
	assert.Eventually(t, func() bool {
		found, err := c.Get(ctx, "k", &v)
		return err == nil && !found
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	conn := testkit.NewRedisConnector(t)
	c, err := New(&Config{Backend: BackendRedis, Prefix: "harvest-test:" + testkit.NewID() + ":"},
		WithRedisConnector(conn))
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k", payload{Name: "r"}, time.Minute))
	var got payload
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r", got.Name)

	require.NoError(t, c.Delete(ctx, "k"))
	found, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}
