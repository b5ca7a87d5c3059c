package db

import (
	"reflect"
	"sync"

	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/logger"
	"gorm.io/gorm"
)

// Plugin enqueues tracked models after gorm creates, updates or deletes
// them. Enqueue failures are logged and never fail the write.
type Plugin struct {
	enqueuer ports.Enqueuer
	logger   logger.Logger

	mu     sync.RWMutex
	tables map[string]string
}

var _ gorm.Plugin = (*Plugin)(nil)

func NewPlugin(enqueuer ports.Enqueuer, log logger.Logger) *Plugin {
	return &Plugin{
		enqueuer: enqueuer,
		logger:   log.Named("gorm-plugin"),
		tables:   make(map[string]string),
	}
}

// Track enqueues changes to table under entityType.
func (p *Plugin) Track(table, entityType string) *Plugin {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables[table] = entityType
	return p
}

func (p *Plugin) Name() string {
	return "scoutbatch"
}

func (p *Plugin) Initialize(db *gorm.DB) error {
	saved := p.callback(batch.MakeSearchable)
	if err := db.Callback().Create().After("gorm:create").Register("scoutbatch:after_create", saved); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("scoutbatch:after_update", saved); err != nil {
		return err
	}
	return db.Callback().Delete().After("gorm:delete").Register("scoutbatch:after_delete", p.callback(batch.RemoveFromSearch))
}

func (p *Plugin) callback(dir batch.Direction) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil || tx.Statement.Schema == nil {
			return
		}

		p.mu.RLock()
		entityType, ok := p.tables[tx.Statement.Schema.Table]
		p.mu.RUnlock()
		if !ok {
			return
		}

		records := collect(tx.Statement.ReflectValue)
		if len(records) == 0 {
			return
		}

		if err := p.enqueuer.Enqueue(tx.Statement.Context, entityType, dir, records); err != nil {
			p.logger.Error("Failed to enqueue changed records",
				"entity_type", entityType,
				"direction", dir,
				"count", len(records),
				"error", err,
			)
		}
	}
}

// collect pulls records with a key out of a struct or slice value.
func collect(v reflect.Value) []batch.Record {
	var out []batch.Record
	add := func(v reflect.Value) {
		if !v.IsValid() {
			return
		}
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return
			}
			v = v.Elem()
		}
		if !v.CanInterface() {
			return
		}
		rec, ok := v.Interface().(batch.Record)
		if !ok && v.CanAddr() {
			rec, ok = v.Addr().Interface().(batch.Record)
		}
		if ok && rec.SearchableKey() != "" {
			out = append(out, rec)
		}
	}

	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			add(v.Index(i))
		}
	default:
		add(v)
	}
	return out
}
