package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/scoutbatch-go/internal/batch/app/store"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/cache"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (p post) SearchableKey() string { return p.ID }

func posts(ids ...string) []batch.Record {
	out := make([]batch.Record, len(ids))
	for i, id := range ids {
		out[i] = post{ID: id, Title: "post " + id}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
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

// memorySource serves records from a map and remembers what it was asked.
type memorySource struct {
	mu      sync.Mutex
	records map[string]batch.Record
	calls   [][]string
	err     error
}

func newMemorySource(records ...batch.Record) *memorySource {
	s := &memorySource{records: make(map[string]batch.Record)}
	for _, r := range records {
		s.records[r.SearchableKey()] = r
	}
	return s
}

func (s *memorySource) FindByIdentifiers(_ context.Context, _ string, ids []string, _ bool) ([]batch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	var out []batch.Record
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memorySource) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// recordingIndexer remembers every delivery.
type recordingIndexer struct {
	mu        sync.Mutex
	indexed   [][]string
	deindexed [][]string
	err       error
}

func (i *recordingIndexer) IndexRecords(_ context.Context, _ string, records []batch.Record) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	ids := make([]string, len(records))
	for n, r := range records {
		ids[n] = r.SearchableKey()
	}
	i.indexed = append(i.indexed, ids)
	return i.err
}

func (i *recordingIndexer) DeindexRecords(_ context.Context, _ string, ids []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deindexed = append(i.deindexed, append([]string(nil), ids...))
	return i.err
}

// MockRecordSource is a mock implementation of ports.RecordSource
type MockRecordSource struct {
	mock.Mock
}

func (m *MockRecordSource) FindByIdentifiers(ctx context.Context, entityType string, ids []string, includeSoftDeleted bool) ([]batch.Record, error) {
	args := m.Called(ctx, entityType, ids, includeSoftDeleted)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]batch.Record), args.Error(1)
}

type testEnv struct {
	service *BatchService
	store   *store.Store
	catalog *Catalog
	clock   *fakeClock
	redis   *miniredis.Miniredis
	indexer *recordingIndexer
	source  *memorySource
}

func setupService(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(cache.NewRedisCache(client, nil), store.NewKeyBuilder(""))
	catalog := NewCatalog()
	clock := newFakeClock()
	indexer := &recordingIndexer{}
	source := newMemorySource(posts("1", "2", "3", "4", "5", "X", "Y")...)

	require.NoError(t, catalog.Bind(Binding{
		EntityType: "posts",
		Indexer:    indexer,
		Source:     source,
	}))

	return &testEnv{
		service: NewBatchService(st, catalog, cfg, logger.NewNop(), WithClock(clock.Now)),
		store:   st,
		catalog: catalog,
		clock:   clock,
		redis:   mr,
		indexer: indexer,
		source:  source,
	}
}

func (e *testEnv) pending(t *testing.T, entityType string, dir batch.Direction) []string {
	t.Helper()
	b, err := e.store.Get(context.Background(), batch.Key{EntityType: entityType, Direction: dir})
	require.NoError(t, err)
	return b.IDs()
}

func (e *testEnv) active(t *testing.T) []string {
	t.Helper()
	types, err := e.store.ListActive(context.Background())
	require.NoError(t, err)
	return types
}
