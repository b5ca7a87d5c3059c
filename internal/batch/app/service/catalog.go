package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
)

// Binding gives an entity type its batching capability.
type Binding struct {
	EntityType string
	// Indexer receives flushed batches.
	Indexer ports.ImmediateIndexable
	// Source resolves pending identifiers at flush time. Required unless
	// every entry is enqueued as a decodable snapshot.
	Source ports.RecordSource
	// SoftDeletes makes materialization include soft-deleted rows.
	SoftDeletes bool
	// Decode turns a stored snapshot back into a record. When nil,
	// snapshots are resolved through Source like identifiers.
	Decode func(raw json.RawMessage) (batch.Record, error)
}

// Catalog maps entity types to their bindings.
type Catalog struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

func NewCatalog() *Catalog {
	return &Catalog{
		bindings: make(map[string]Binding),
	}
}

func (c *Catalog) Bind(b Binding) error {
	if b.EntityType == "" {
		return errors.New("binding requires an entity type")
	}
	if b.Indexer == nil {
		return fmt.Errorf("binding for %s requires an indexer", b.EntityType)
	}
	if b.Source == nil && b.Decode == nil {
		return fmt.Errorf("binding for %s requires a record source or a snapshot decoder", b.EntityType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[b.EntityType] = b
	return nil
}

func (c *Catalog) Unbind(entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, entityType)
}

// Lookup returns the binding that gives entityType the batching capability.
func (c *Catalog) Lookup(entityType string) (Binding, error) {
	c.mu.RLock()
	b, ok := c.bindings[entityType]
	c.mu.RUnlock()

	if !ok || b.Indexer == nil {
		return Binding{}, fmt.Errorf("%w: %s", batch.ErrMisconfiguredEntity, entityType)
	}
	return b, nil
}

func (c *Catalog) Has(entityType string) bool {
	_, err := c.Lookup(entityType)
	return err == nil
}

func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.bindings))
	for t := range c.bindings {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DecodeJSON builds a Binding.Decode for records of type T.
func DecodeJSON[T batch.Record]() func(json.RawMessage) (batch.Record, error) {
	return func(raw json.RawMessage) (batch.Record, error) {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
}
