package db

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/database"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Article struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Title     string         `json:"title"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a Article) SearchableKey() string { return a.ID }

type Comment struct {
	ID   string `gorm:"primaryKey"`
	Body string
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	// Use a named in-memory SQLite database per test
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := database.Open(sqlite.Open(dsn), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.AutoMigrate(&Article{}, &Comment{}))
	return db
}

type enqueueCall struct {
	entityType string
	dir        batch.Direction
	ids        []string
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, entityType string, dir batch.Direction, records []batch.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.SearchableKey()
	}
	r.calls = append(r.calls, enqueueCall{entityType: entityType, dir: dir, ids: ids})
	return r.err
}
