package batch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is anything that can be made searchable. SearchableKey returns the
// stable primary identifier used to dedupe pending entries and to address
// the document in the search index.
type Record interface {
	SearchableKey() string
}

// Direction tells whether pending identifiers are headed for indexing or for
// removal from the index.
type Direction string

const (
	MakeSearchable   Direction = "MAKE_SEARCHABLE"
	RemoveFromSearch Direction = "REMOVE_FROM_SEARCH"
)

// Directions lists both directions in evaluation order.
var Directions = []Direction{MakeSearchable, RemoveFromSearch}

func (d Direction) Opposite() Direction {
	if d == MakeSearchable {
		return RemoveFromSearch
	}
	return MakeSearchable
}

func (d Direction) Valid() bool {
	return d == MakeSearchable || d == RemoveFromSearch
}

func (d Direction) String() string {
	return string(d)
}

// ParseDirection accepts the canonical names as well as the short forms used
// by the HTTP API and change events.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "make_searchable", "searchable", "index":
		return MakeSearchable, nil
	case "remove_from_search", "unsearchable", "deindex":
		return RemoveFromSearch, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Key addresses one pending batch.
type Key struct {
	EntityType string    `json:"entity_type"`
	Direction  Direction `json:"direction"`
}

func (k Key) Opposite() Key {
	return Key{EntityType: k.EntityType, Direction: k.Direction.Opposite()}
}

func (k Key) String() string {
	return k.EntityType + "/" + string(k.Direction)
}

// ItemKind tags the representation of a pending entry.
type ItemKind string

const (
	ItemIdentifier ItemKind = "identifier"
	ItemSnapshot   ItemKind = "snapshot"
)

// PendingItem is either a bare identifier or a full record snapshot.
type PendingItem struct {
	ID     string          `json:"id"`
	Kind   ItemKind        `json:"kind"`
	Record json.RawMessage `json:"record,omitempty"`
}

func Identifier(id string) PendingItem {
	return PendingItem{ID: id, Kind: ItemIdentifier}
}

// Snapshot captures the current state of r so the flush can deliver it
// without going back to the record source.
func Snapshot(r Record) (PendingItem, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return PendingItem{}, fmt.Errorf("snapshot %s: %w", r.SearchableKey(), err)
	}
	return PendingItem{ID: r.SearchableKey(), Kind: ItemSnapshot, Record: raw}, nil
}

func (i PendingItem) IsSnapshot() bool {
	return i.Kind == ItemSnapshot && len(i.Record) > 0
}

// PendingBatch is the set of entries waiting to be flushed for one Key.
// Items are unique by ID and kept in insertion order.
type PendingBatch struct {
	EntityType string        `json:"entity_type"`
	Direction  Direction     `json:"direction"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Items      []PendingItem `json:"items"`
}

func NewPendingBatch(key Key, now time.Time) *PendingBatch {
	return &PendingBatch{
		EntityType: key.EntityType,
		Direction:  key.Direction,
		UpdatedAt:  now,
		Items:      []PendingItem{},
	}
}

func (b *PendingBatch) Key() Key {
	return Key{EntityType: b.EntityType, Direction: b.Direction}
}

func (b *PendingBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Items)
}

func (b *PendingBatch) IsEmpty() bool {
	return b.Len() == 0
}

// Merge adds items, replacing any entry that shares an ID. The incoming entry
// wins and moves to the end; among duplicates inside items the last one wins.
func (b *PendingBatch) Merge(items []PendingItem, now time.Time) {
	incoming := dedupeLatest(items)
	if len(incoming) == 0 {
		return
	}

	replaced := make(map[string]struct{}, len(incoming))
	for _, item := range incoming {
		replaced[item.ID] = struct{}{}
	}

	merged := make([]PendingItem, 0, len(b.Items)+len(incoming))
	for _, item := range b.Items {
		if _, ok := replaced[item.ID]; !ok {
			merged = append(merged, item)
		}
	}
	b.Items = append(merged, incoming...)
	b.UpdatedAt = now
}

// Remove drops entries whose ID is in ids and returns how many were removed.
// UpdatedAt is left alone.
func (b *PendingBatch) Remove(ids map[string]struct{}) int {
	if b == nil || len(ids) == 0 {
		return 0
	}
	kept := b.Items[:0]
	removed := 0
	for _, item := range b.Items {
		if _, ok := ids[item.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	b.Items = kept
	return removed
}

func (b *PendingBatch) Contains(id string) bool {
	if b == nil {
		return false
	}
	for _, item := range b.Items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func (b *PendingBatch) IDs() []string {
	if b == nil {
		return nil
	}
	ids := make([]string, len(b.Items))
	for i, item := range b.Items {
		ids[i] = item.ID
	}
	return ids
}

// Age is how long the batch has gone without a new entry.
func (b *PendingBatch) Age(now time.Time) time.Duration {
	return now.Sub(b.UpdatedAt)
}

func dedupeLatest(items []PendingItem) []PendingItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]PendingItem, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.ID == "" {
			continue
		}
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// FlushReason records which threshold triggered a flush.
type FlushReason string

const (
	FlushReasonNone FlushReason = ""
	FlushReasonSize FlushReason = "size"
	FlushReasonTime FlushReason = "time"
)

// FlushResult describes the outcome of one evaluation.
type FlushResult struct {
	Key       Key         `json:"key"`
	Flushed   bool        `json:"flushed"`
	Reason    FlushReason `json:"reason,omitempty"`
	Pending   int         `json:"pending"`
	Delivered int         `json:"delivered"`
	Dropped   []string    `json:"dropped,omitempty"`
}
