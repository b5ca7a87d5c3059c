package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/cache"
)

// Store persists pending batches and the registry of active entity types in
// a cache.Cache. Single operations go straight to the cache; multi-key
// read-modify-write sequences go through Update.
type Store struct {
	cache cache.Cache
	keys  KeyBuilder
	ttl   time.Duration
}

type Option func(*Store)

// WithTTL bounds how long an untouched batch survives in the cache. Zero
// keeps batches until they are flushed.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func New(c cache.Cache, keys KeyBuilder, opts ...Option) *Store {
	s := &Store{
		cache: c,
		keys:  keys,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Keys() KeyBuilder {
	return s.keys
}

// Update runs fn in one optimistic transaction covering the given batches and
// the registry. fn may run more than once when another writer interferes.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error, keys ...batch.Key) error {
	watched := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		watched = append(watched, s.keys.BatchKey(key))
	}
	watched = append(watched, s.keys.RegistryKey())

	var fnErr error
	err := s.cache.Atomic(ctx, func(ctx context.Context, rw cache.ReadWriter) error {
		fnErr = fn(ctx, s.tx(rw))
		return fnErr
	}, watched...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrConflict):
		return fmt.Errorf("%w: %w", batch.ErrConflict, err)
	case fnErr != nil && errors.Is(err, fnErr):
		return err
	default:
		// WATCH or EXEC itself failed
		return fmt.Errorf("%w: %w", batch.ErrTransientStore, err)
	}
}

func (s *Store) Get(ctx context.Context, key batch.Key) (*batch.PendingBatch, error) {
	return s.tx(s.cache).Get(ctx, key)
}

func (s *Store) Put(ctx context.Context, b *batch.PendingBatch) error {
	return s.tx(s.cache).Put(ctx, b)
}

func (s *Store) Delete(ctx context.Context, key batch.Key) error {
	return s.tx(s.cache).Delete(ctx, key)
}

func (s *Store) tx(rw cache.ReadWriter) *Tx {
	return &Tx{rw: rw, keys: s.keys, ttl: s.ttl}
}

// Tx is a view over either the cache itself or a running transaction.
type Tx struct {
	rw   cache.ReadWriter
	keys KeyBuilder
	ttl  time.Duration
}

// Get returns the pending batch for key, or nil when there is none.
func (t *Tx) Get(ctx context.Context, key batch.Key) (*batch.PendingBatch, error) {
	var b batch.PendingBatch
	if err := t.rw.Get(ctx, t.keys.BatchKey(key), &b); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get %s: %w", batch.ErrTransientStore, key, err)
	}

	b.EntityType = key.EntityType
	b.Direction = key.Direction
	if b.Items == nil {
		b.Items = []batch.PendingItem{}
	}
	return &b, nil
}

// Put stores b, or deletes its key when b has no items so that empty
// batches never linger.
func (t *Tx) Put(ctx context.Context, b *batch.PendingBatch) error {
	if b.IsEmpty() {
		return t.Delete(ctx, b.Key())
	}
	if err := t.rw.Set(ctx, t.keys.BatchKey(b.Key()), b, t.ttl); err != nil {
		return fmt.Errorf("%w: put %s: %w", batch.ErrTransientStore, b.Key(), err)
	}
	return nil
}

func (t *Tx) Delete(ctx context.Context, key batch.Key) error {
	if err := t.rw.Delete(ctx, t.keys.BatchKey(key)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", batch.ErrTransientStore, key, err)
	}
	return nil
}
