package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/cache"
)

// The registry is a sorted JSON array of entity types stored under
// KeyBuilder.RegistryKey. It lives next to the batches so a sweep started
// after a restart still knows which types have pending work.

func (t *Tx) ListActive(ctx context.Context) ([]string, error) {
	var types []string
	if err := t.rw.Get(ctx, t.keys.RegistryKey(), &types); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: read registry: %w", batch.ErrTransientStore, err)
	}
	return types, nil
}

func (t *Tx) MarkActive(ctx context.Context, entityType string) error {
	types, err := t.ListActive(ctx)
	if err != nil {
		return err
	}

	i := sort.SearchStrings(types, entityType)
	if i < len(types) && types[i] == entityType {
		return nil
	}
	types = append(types, "")
	copy(types[i+1:], types[i:])
	types[i] = entityType

	return t.writeRegistry(ctx, types)
}

// MarkInactiveIfEmpty drops entityType from the registry when neither
// direction has a pending batch. It reports whether the type was removed.
func (t *Tx) MarkInactiveIfEmpty(ctx context.Context, entityType string) (bool, error) {
	for _, dir := range batch.Directions {
		b, err := t.Get(ctx, batch.Key{EntityType: entityType, Direction: dir})
		if err != nil {
			return false, err
		}
		if !b.IsEmpty() {
			return false, nil
		}
	}
	return t.Remove(ctx, entityType)
}

// Remove drops entityType from the registry unconditionally.
func (t *Tx) Remove(ctx context.Context, entityType string) (bool, error) {
	types, err := t.ListActive(ctx)
	if err != nil {
		return false, err
	}

	i := sort.SearchStrings(types, entityType)
	if i >= len(types) || types[i] != entityType {
		return false, nil
	}
	types = append(types[:i], types[i+1:]...)

	return true, t.writeRegistry(ctx, types)
}

func (t *Tx) writeRegistry(ctx context.Context, types []string) error {
	var err error
	if len(types) == 0 {
		err = t.rw.Delete(ctx, t.keys.RegistryKey())
	} else {
		err = t.rw.Set(ctx, t.keys.RegistryKey(), types, 0)
	}
	if err != nil {
		return fmt.Errorf("%w: write registry: %w", batch.ErrTransientStore, err)
	}
	return nil
}

// ListActive returns the entity types that currently have pending work.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	return s.tx(s.cache).ListActive(ctx)
}

func (s *Store) MarkActive(ctx context.Context, entityType string) error {
	return s.Update(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.MarkActive(ctx, entityType)
	})
}

func (s *Store) MarkInactiveIfEmpty(ctx context.Context, entityType string) (bool, error) {
	var removed bool
	err := s.Update(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		removed, err = tx.MarkInactiveIfEmpty(ctx, entityType)
		return err
	}, batch.Key{EntityType: entityType, Direction: batch.MakeSearchable},
		batch.Key{EntityType: entityType, Direction: batch.RemoveFromSearch})
	return removed, err
}

func (s *Store) Remove(ctx context.Context, entityType string) (bool, error) {
	var removed bool
	err := s.Update(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		removed, err = tx.Remove(ctx, entityType)
		return err
	})
	return removed, err
}
