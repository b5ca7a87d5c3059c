package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/database"
	"gorm.io/gorm"
)

type finder func(tx *gorm.DB, ids []string, includeSoftDeleted bool) ([]batch.Record, error)

// Source resolves pending identifiers against the database.
type Source struct {
	db *database.DB

	mu      sync.RWMutex
	finders map[string]finder
}

var _ ports.RecordSource = (*Source)(nil)

func NewSource(db *database.DB) *Source {
	return &Source{
		db:      db,
		finders: make(map[string]finder),
	}
}

// Register binds entityType to the gorm model T. Soft deletes follow the
// model's gorm.DeletedAt field.
func Register[T batch.Record](s *Source, entityType, keyColumn string) {
	s.register(entityType, func(tx *gorm.DB, ids []string, includeSoftDeleted bool) ([]batch.Record, error) {
		if includeSoftDeleted {
			tx = tx.Unscoped()
		}

		var rows []T
		if err := tx.Where(fmt.Sprintf("%s IN ?", keyColumn), ids).Find(&rows).Error; err != nil {
			return nil, err
		}

		out := make([]batch.Record, len(rows))
		for i, row := range rows {
			out[i] = row
		}
		return out, nil
	})
}

// RegisterTable binds entityType to a plain table. Rows come back as Row
// values carrying every column.
func (s *Source) RegisterTable(entityType, table, keyColumn string, softDeletes bool) {
	s.register(entityType, func(tx *gorm.DB, ids []string, includeSoftDeleted bool) ([]batch.Record, error) {
		query := tx.Table(table).Where(fmt.Sprintf("%s IN ?", keyColumn), ids)
		if softDeletes && !includeSoftDeleted {
			query = query.Where("deleted_at IS NULL")
		}

		var rows []map[string]interface{}
		if err := query.Find(&rows).Error; err != nil {
			return nil, err
		}

		out := make([]batch.Record, 0, len(rows))
		for _, fields := range rows {
			out = append(out, Row{Key: fmt.Sprint(fields[keyColumn]), Fields: fields})
		}
		return out, nil
	})
}

func (s *Source) register(entityType string, f finder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finders[entityType] = f
}

func (s *Source) FindByIdentifiers(ctx context.Context, entityType string, ids []string, includeSoftDeleted bool) ([]batch.Record, error) {
	s.mu.RLock()
	find, ok := s.finders[entityType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no table registered for %s", batch.ErrMisconfiguredEntity, entityType)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	records, err := find(s.db.WithContext(ctx), ids, includeSoftDeleted)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entityType, err)
	}
	return records, nil
}

// Row is a database row loaded without a model.
type Row struct {
	Key    string
	Fields map[string]interface{}
}

func (r Row) SearchableKey() string { return r.Key }

func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

func (r *Row) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Fields)
}
