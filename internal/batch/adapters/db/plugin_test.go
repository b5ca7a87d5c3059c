package db

import (
	"errors"
	"testing"

	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugin_EnqueuesTrackedWrites(t *testing.T) {
	db := setupTestDB(t)
	enq := &recordingEnqueuer{}
	require.NoError(t, db.Use(NewPlugin(enq, logger.NewNop()).Track("articles", "articles")))

	article := &Article{ID: "1", Title: "draft"}
	require.NoError(t, db.Create(article).Error)
	require.NoError(t, db.Create(&[]Article{{ID: "2"}, {ID: "3"}}).Error)
	require.NoError(t, db.Model(article).Update("title", "published").Error)
	require.NoError(t, db.Delete(article).Error)

	assert.Equal(t, []enqueueCall{
		{entityType: "articles", dir: batch.MakeSearchable, ids: []string{"1"}},
		{entityType: "articles", dir: batch.MakeSearchable, ids: []string{"2", "3"}},
		{entityType: "articles", dir: batch.MakeSearchable, ids: []string{"1"}},
		{entityType: "articles", dir: batch.RemoveFromSearch, ids: []string{"1"}},
	}, enq.calls)
}

func TestPlugin_IgnoresUntrackedTables(t *testing.T) {
	db := setupTestDB(t)
	enq := &recordingEnqueuer{}
	require.NoError(t, db.Use(NewPlugin(enq, logger.NewNop())))

	require.NoError(t, db.Create(&Article{ID: "1"}).Error)
	assert.Empty(t, enq.calls)
}

func TestPlugin_SkipsRecordsWithoutKey(t *testing.T) {
	db := setupTestDB(t)
	enq := &recordingEnqueuer{}
	require.NoError(t, db.Use(NewPlugin(enq, logger.NewNop()).Track("articles", "articles")))

	require.NoError(t, db.Where("id = ?", "404").Delete(&Article{}).Error)
	assert.Empty(t, enq.calls)
}

func TestPlugin_EnqueueFailureDoesNotFailWrite(t *testing.T) {
	db := setupTestDB(t)
	enq := &recordingEnqueuer{err: errors.New("redis down")}
	require.NoError(t, db.Use(NewPlugin(enq, logger.NewNop()).Track("articles", "articles")))

	require.NoError(t, db.Create(&Article{ID: "1"}).Error)
	assert.Len(t, enq.calls, 1)

	var count int64
	require.NoError(t, db.Model(&Article{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
