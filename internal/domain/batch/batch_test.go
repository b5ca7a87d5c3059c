package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (p post) SearchableKey() string { return p.ID }

func TestDirection_Opposite(t *testing.T) {
	assert.Equal(t, RemoveFromSearch, MakeSearchable.Opposite())
	assert.Equal(t, MakeSearchable, RemoveFromSearch.Opposite())
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{
		"MAKE_SEARCHABLE":    MakeSearchable,
		"searchable":         MakeSearchable,
		" index ":            MakeSearchable,
		"remove_from_search": RemoveFromSearch,
		"unsearchable":       RemoveFromSearch,
		"deindex":            RemoveFromSearch,
	}
	for in, want := range tests {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestPendingBatch_MergeLatestWins(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewPendingBatch(Key{EntityType: "posts", Direction: MakeSearchable}, t0)

	b.Merge([]PendingItem{Identifier("1"), Identifier("2")}, t0)
	snap, err := Snapshot(post{ID: "1", Title: "fresh"})
	require.NoError(t, err)

	t1 := t0.Add(time.Second)
	b.Merge([]PendingItem{snap}, t1)

	assert.Equal(t, []string{"2", "1"}, b.IDs())
	assert.True(t, b.Items[1].IsSnapshot())
	assert.Equal(t, t1, b.UpdatedAt)

	// an identifier again replaces the snapshot
	b.Merge([]PendingItem{Identifier("1")}, t1)
	assert.Equal(t, 2, b.Len())
	assert.False(t, b.Items[1].IsSnapshot())
}

func TestPendingBatch_MergeDedupesIncoming(t *testing.T) {
	b := NewPendingBatch(Key{EntityType: "posts", Direction: MakeSearchable}, time.Now())
	first, _ := Snapshot(post{ID: "a", Title: "old"})
	last, _ := Snapshot(post{ID: "a", Title: "new"})

	b.Merge([]PendingItem{first, Identifier("b"), last, Identifier("")}, time.Now())

	require.Equal(t, []string{"b", "a"}, b.IDs())
	assert.JSONEq(t, `{"id":"a","title":"new"}`, string(b.Items[1].Record))
}

func TestPendingBatch_MergeEmptyKeepsTimestamp(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewPendingBatch(Key{EntityType: "posts", Direction: MakeSearchable}, t0)
	b.Merge(nil, t0.Add(time.Hour))
	assert.Equal(t, t0, b.UpdatedAt)
	assert.True(t, b.IsEmpty())
}

func TestPendingBatch_Remove(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewPendingBatch(Key{EntityType: "posts", Direction: RemoveFromSearch}, t0)
	b.Merge([]PendingItem{Identifier("1"), Identifier("2"), Identifier("3")}, t0)

	removed := b.Remove(map[string]struct{}{"2": {}, "9": {}})
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"1", "3"}, b.IDs())
	assert.False(t, b.Contains("2"))
	assert.Equal(t, t0, b.UpdatedAt)
}

func TestPendingBatch_NilSafe(t *testing.T) {
	var b *PendingBatch
	assert.True(t, b.IsEmpty())
	assert.Equal(t, 0, b.Remove(map[string]struct{}{"1": {}}))
	assert.False(t, b.Contains("1"))
	assert.Nil(t, b.IDs())
}
