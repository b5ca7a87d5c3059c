package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scoutbatch-go/pkg/metrics"
	"github.com/scoutbatch-go/pkg/resilience"
)

// RedisCache implements Cache interface using Redis
type RedisCache struct {
	client  *redis.Client
	options *Options
	codec   Codec
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, opts *Options) *RedisCache {
	if opts == nil {
		opts = DefaultOptions()
	}

	if opts.Codec == nil {
		opts.Codec = &JSONCodec{}
	}

	return &RedisCache{
		client:  client,
		options: opts,
		codec:   opts.Codec,
	}
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	return c.get(ctx, c.client, key, dest)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *RedisCache) get(ctx context.Context, g getter, key string, dest interface{}) error {
	data, err := g.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
			return ErrCacheMiss
		}
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return fmt.Errorf("redis get error: %w", err)
	}

	if err := c.codec.Decode(data, dest); err != nil {
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return fmt.Errorf("decode error for key %s: %w", key, err)
	}

	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return nil
}

// Set stores a value in cache with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(key), data, c.ttl(ttl)).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("redis set error: %w", err)
	}

	metrics.CacheOperations.WithLabelValues("set", "ok").Inc()
	return nil
}

// Delete removes a key from cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis delete error: %w", err)
	}

	metrics.CacheOperations.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Exists checks if a key exists in cache
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}

	return exists > 0, nil
}

// Atomic runs fn under WATCH on keys and commits its writes with MULTI/EXEC.
func (c *RedisCache) Atomic(ctx context.Context, fn func(ctx context.Context, rw ReadWriter) error, keys ...string) error {
	watched := make([]string, len(keys))
	for i, key := range keys {
		watched[i] = c.buildKey(key)
	}

	attempts := c.options.MaxTxRetries
	if attempts <= 0 {
		attempts = 1
	}
	backoff := resilience.RetryConfig{
		MaxAttempts:       attempts,
		InitialDelay:      c.options.TxRetryDelay,
		MaxDelay:          c.options.TxRetryMaxDelay,
		BackoffMultiplier: 2,
		Jitter:            1,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, redis.TxFailedErr)
		},
	}

	err := resilience.Retry(ctx, backoff, func() error {
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			txn := &redisTxn{cache: c, tx: tx, pending: make(map[string]pendingWrite)}
			if err := fn(ctx, txn); err != nil {
				return err
			}
			return txn.commit(ctx)
		}, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			metrics.CacheOperations.WithLabelValues("atomic", "conflict").Inc()
		}
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w after %d attempts on %v", ErrConflict, attempts, keys)
	}
	return err
}

// Ping checks if cache is available
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the cache connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying Redis client for callers that need
// primitives outside the Cache interface (locks).
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) buildKey(key string) string {
	if c.options.Namespace != "" {
		return fmt.Sprintf("%s:%s", c.options.Namespace, key)
	}
	return key
}

func (c *RedisCache) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return c.options.DefaultTTL
	}
	return ttl
}

type pendingWrite struct {
	data    []byte
	ttl     time.Duration
	deleted bool
}

// redisTxn buffers writes until commit so they land in a single MULTI/EXEC.
// Reads of a key written earlier in the same transaction see the buffered value.
type redisTxn struct {
	cache   *RedisCache
	tx      *redis.Tx
	pending map[string]pendingWrite
	order   []string
}

func (t *redisTxn) Get(ctx context.Context, key string, dest interface{}) error {
	if w, ok := t.pending[key]; ok {
		if w.deleted {
			return ErrCacheMiss
		}
		if err := t.cache.codec.Decode(w.data, dest); err != nil {
			return fmt.Errorf("decode error for key %s: %w", key, err)
		}
		return nil
	}
	return t.cache.get(ctx, t.tx, key, dest)
}

func (t *redisTxn) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := t.cache.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}
	t.record(key, pendingWrite{data: data, ttl: t.cache.ttl(ttl)})
	return nil
}

func (t *redisTxn) Delete(_ context.Context, key string) error {
	t.record(key, pendingWrite{deleted: true})
	return nil
}

func (t *redisTxn) record(key string, w pendingWrite) {
	if _, ok := t.pending[key]; !ok {
		t.order = append(t.order, key)
	}
	t.pending[key] = w
}

func (t *redisTxn) commit(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}

	_, err := t.tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range t.order {
			w := t.pending[key]
			redisKey := t.cache.buildKey(key)
			if w.deleted {
				pipe.Del(ctx, redisKey)
			} else {
				pipe.Set(ctx, redisKey, w.data, w.ttl)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return fmt.Errorf("redis transaction error: %w", err)
	}

	metrics.CacheOperations.WithLabelValues("atomic", "ok").Inc()
	return nil
}
