package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(ttl time.Duration) (*Cache[string, int], *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	c := New[string, int](ttl)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCache_SetGetExpire(t *testing.T) {
	c, now := newTestCache(time.Second)

	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Minute)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	*now = now.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_DeleteClearPrune(t *testing.T) {
	c, now := newTestCache(time.Second)
	c.Set("a", 1)
	c.Set("b", 2)
	c.SetWithTTL("c", 3, time.Hour)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	*now = now.Add(2 * time.Second)
	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestCache_GetOrSet(t *testing.T) {
	c, now := newTestCache(time.Second)
	ctx := context.Background()

	calls := 0
	fallback := func(context.Context) (int, error) {
		calls++
		return calls * 10, nil
	}

	v, err := c.GetOrSet(ctx, "k", fallback)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = c.GetOrSet(ctx, "k", fallback)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, calls)

	*now = now.Add(time.Second)
	v, err = c.GetOrSet(ctx, "k", fallback)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	boom := errors.New("boom")
	_, err = c.GetOrSet(ctx, "other", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get("other")
	assert.False(t, ok)
}
