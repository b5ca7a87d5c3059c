package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(cache.NewRedisCache(client, nil), NewKeyBuilder(""), opts...), mr
}

func TestKeyBuilder(t *testing.T) {
	kb := NewKeyBuilder("")
	assert.Equal(t, "SCOUT_BATCH_SEARCHABLE_QUEUE_BLOG_POST_MAKE_SEARCHABLE",
		kb.BatchKey(batch.Key{EntityType: "BlogPost", Direction: batch.MakeSearchable}))
	assert.Equal(t, "SCOUT_BATCH_SEARCHABLE_QUEUE_APP_MODELS_BLOG_POST_REMOVE_FROM_SEARCH",
		kb.BatchKey(batch.Key{EntityType: `App\Models\BlogPost`, Direction: batch.RemoveFromSearch}))
	assert.Equal(t, "SCOUT_BATCH_SEARCHABLE_QUEUE_ACTIVE_ENTITY_TYPES", kb.RegistryKey())
	assert.Equal(t, "SCOUT_BATCH_SEARCHABLE_QUEUE_SWEEP_LOCK", kb.SweepLockKey())

	custom := NewKeyBuilder("IDX")
	assert.Equal(t, "IDX_BLOG_POSTS_MAKE_SEARCHABLE",
		custom.BatchKey(batch.Key{EntityType: "blog_posts", Direction: batch.MakeSearchable}))
}

func TestStore_PutGetDelete(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	key := batch.Key{EntityType: "posts", Direction: batch.MakeSearchable}

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := batch.NewPendingBatch(key, now)
	b.Merge([]batch.PendingItem{batch.Identifier("1"), batch.Identifier("2")}, now)
	require.NoError(t, s.Put(ctx, b))
	assert.True(t, mr.Exists("SCOUT_BATCH_SEARCHABLE_QUEUE_POSTS_MAKE_SEARCHABLE"))

	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"1", "2"}, got.IDs())
	assert.True(t, now.Equal(got.UpdatedAt))
	assert.Equal(t, key, got.Key())

	require.NoError(t, s.Delete(ctx, key))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_PutEmptyDeletes(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	key := batch.Key{EntityType: "posts", Direction: batch.RemoveFromSearch}

	b := batch.NewPendingBatch(key, time.Now())
	b.Merge([]batch.PendingItem{batch.Identifier("1")}, time.Now())
	require.NoError(t, s.Put(ctx, b))

	b.Remove(map[string]struct{}{"1": {}})
	require.NoError(t, s.Put(ctx, b))
	assert.False(t, mr.Exists("SCOUT_BATCH_SEARCHABLE_QUEUE_POSTS_REMOVE_FROM_SEARCH"))
}

func TestStore_GetMalformed(t *testing.T) {
	s, mr := setupStore(t)
	require.NoError(t, mr.Set("SCOUT_BATCH_SEARCHABLE_QUEUE_POSTS_MAKE_SEARCHABLE", "garbage"))

	_, err := s.Get(context.Background(), batch.Key{EntityType: "posts", Direction: batch.MakeSearchable})
	assert.ErrorIs(t, err, batch.ErrTransientStore)
}

func TestStore_Unreachable(t *testing.T) {
	s, mr := setupStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), batch.Key{EntityType: "posts", Direction: batch.MakeSearchable})
	assert.ErrorIs(t, err, batch.ErrTransientStore)

	_, err = s.ListActive(context.Background())
	assert.ErrorIs(t, err, batch.ErrTransientStore)
}

func TestStore_WithTTL(t *testing.T) {
	s, mr := setupStore(t, WithTTL(time.Hour))
	key := batch.Key{EntityType: "posts", Direction: batch.MakeSearchable}
	b := batch.NewPendingBatch(key, time.Now())
	b.Merge([]batch.PendingItem{batch.Identifier("1")}, time.Now())

	require.NoError(t, s.Put(context.Background(), b))
	assert.Equal(t, time.Hour, mr.TTL("SCOUT_BATCH_SEARCHABLE_QUEUE_POSTS_MAKE_SEARCHABLE"))
}

func TestRegistry_MarkActiveIsSortedSet(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.MarkActive(ctx, "users"))
	require.NoError(t, s.MarkActive(ctx, "posts"))
	require.NoError(t, s.MarkActive(ctx, "users"))

	active, err = s.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, active)
}

func TestRegistry_MarkInactiveIfEmpty(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.MarkActive(ctx, "posts"))

	key := batch.Key{EntityType: "posts", Direction: batch.RemoveFromSearch}
	b := batch.NewPendingBatch(key, time.Now())
	b.Merge([]batch.PendingItem{batch.Identifier("1")}, time.Now())
	require.NoError(t, s.Put(ctx, b))

	removed, err := s.MarkInactiveIfEmpty(ctx, "posts")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, s.Delete(ctx, key))
	removed, err = s.MarkInactiveIfEmpty(ctx, "posts")
	require.NoError(t, err)
	assert.True(t, removed)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.False(t, mr.Exists("SCOUT_BATCH_SEARCHABLE_QUEUE_ACTIVE_ENTITY_TYPES"))
}

func TestRegistry_Remove(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.MarkActive(ctx, "a"))
	require.NoError(t, s.MarkActive(ctx, "b"))

	removed, err := s.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, active)
}

func TestStore_UpdateIsAtomic(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	key := batch.Key{EntityType: "posts", Direction: batch.MakeSearchable}

	err := s.Update(ctx, func(ctx context.Context, tx *Tx) error {
		b := batch.NewPendingBatch(key, time.Now())
		b.Merge([]batch.PendingItem{batch.Identifier("1")}, time.Now())
		if err := tx.Put(ctx, b); err != nil {
			return err
		}
		return tx.MarkActive(ctx, "posts")
	}, key)
	require.NoError(t, err)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, got.IDs())

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts"}, active)
}
