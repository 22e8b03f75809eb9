package storage

import (
	"context"
	"testing"
	"time"

	"workflow_tracker/internal/fragment"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, policy DeliveryPolicy, clock *fakeClock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, "guidance", Options{
		Predicate: contentAndGuidance,
		Delivery:  policy,
		TTL:       10 * time.Minute,
		Clock:     clock.Now,
	}), mr
}

func TestRedisStoreScenario(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, DeliverOnce, newFakeClock())

	require.NoError(t, store.Merge(ctx, "sess-1", fragment.KindContent, []byte(`{"text":"hello"}`)))
	st, err := store.Status(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatePartial, st.State)
	assert.Equal(t, []fragment.Kind{fragment.KindContent}, st.Held)

	require.NoError(t, store.Merge(ctx, "sess-1", fragment.KindGuidance, []byte(`{"tips":["a","b"]}`)))
	st, err = store.Status(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, StateComplete, st.State)
	assert.JSONEq(t, `{"text":"hello"}`, string(st.Payload[fragment.KindContent]))
	assert.JSONEq(t, `{"tips":["a","b"]}`, string(st.Payload[fragment.KindGuidance]))

	st, err = store.Status(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, st.State)
}

func TestRedisStoreRepeatable(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, DeliverRepeatable, newFakeClock())

	require.NoError(t, store.Merge(ctx, "s", fragment.KindContent, []byte(`{"text":"x"}`)))
	require.NoError(t, store.Merge(ctx, "s", fragment.KindGuidance, []byte(`{"tips":["y"]}`)))

	for i := 0; i < 2; i++ {
		st, err := store.Status(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, StateComplete, st.State)
	}
}

func TestRedisStoreKeyLayoutAndTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, DeliverOnce, newFakeClock())

	require.NoError(t, store.Merge(ctx, "abc", fragment.KindContent, []byte(`{"text":"x"}`)))

	key := "tracker:guidance:session:abc"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, `{"text":"x"}`, mr.HGet(key, "content"))
	assert.Equal(t, 10*time.Minute, mr.TTL(key))

	ttl, err := store.GetTTL(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)

	// Redis drops the key once its TTL runs out.
	mr.FastForward(11 * time.Minute)
	st, err := store.Status(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, st.State)
}

func TestRedisStoreStaleTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newTestRedisStore(t, DeliverOnce, clock)

	require.NoError(t, store.Merge(ctx, "s", fragment.KindContent, []byte(`{}`)))
	clock.Advance(11 * time.Minute)

	st, err := store.Status(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, st.State)
	assert.False(t, mr.Exists("tracker:guidance:session:s"))
}

func TestRedisStoreExpireStale(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, mr := newTestRedisStore(t, DeliverOnce, clock)

	require.NoError(t, store.Merge(ctx, "old", fragment.KindContent, []byte(`{}`)))
	clock.Advance(8 * time.Minute)
	require.NoError(t, store.Merge(ctx, "new", fragment.KindContent, []byte(`{}`)))
	clock.Advance(3 * time.Minute)

	// An unrelated key under another tracker must survive.
	mr.HSet("tracker:content:session:other", updatedField, "0")

	removed, err := store.ExpireStale(ctx, clock.Now(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists("tracker:guidance:session:old"))
	assert.True(t, mr.Exists("tracker:guidance:session:new"))
	assert.True(t, mr.Exists("tracker:content:session:other"))
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, DeliverOnce, newFakeClock())

	require.NoError(t, store.Merge(ctx, "s", fragment.KindContent, []byte(`{}`)))
	ok, err := store.Delete(ctx, "s")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete(ctx, "s")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Delete(ctx, "")
	assert.ErrorIs(t, err, ErrMissingSessionID)
}

func TestRedisStorePing(t *testing.T) {
	store, mr := newTestRedisStore(t, DeliverOnce, newFakeClock())
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestNewRedisClientErrors(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "")
	assert.Error(t, err)

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}
