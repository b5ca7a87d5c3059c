package service

import (
	"context"
	"time"

	"github.com/scoutbatch-go/internal/batch/app/store"
	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/logger"
)

const (
	DefaultMaxBatchSize     = 250
	DefaultDebounceInterval = time.Minute
)

// Config holds the flush thresholds. A batch flushes once it holds at least
// MaxBatchSize items or has not changed for DebounceInterval.
type Config struct {
	MaxBatchSize     int
	DebounceInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBatchSize:     DefaultMaxBatchSize,
		DebounceInterval: DefaultDebounceInterval,
	}
}

// BatchService accumulates pending index mutations and flushes them to the
// indexer bound for each entity type.
type BatchService struct {
	store    *store.Store
	catalog  *Catalog
	config   Config
	logger   logger.Logger
	now      func() time.Time
	observer ports.FlushObserver
}

type Option func(*BatchService)

// WithObserver reports every flushed batch to o.
func WithObserver(o ports.FlushObserver) Option {
	return func(s *BatchService) {
		s.observer = o
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *BatchService) {
		s.now = now
	}
}

func NewBatchService(st *store.Store, catalog *Catalog, cfg Config, log logger.Logger, opts ...Option) *BatchService {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.DebounceInterval < 0 {
		cfg.DebounceInterval = 0
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &BatchService{
		store:   st,
		catalog: catalog,
		config:  cfg,
		logger:  log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BatchService) Config() Config {
	return s.config
}

func (s *BatchService) Catalog() *Catalog {
	return s.catalog
}

// Status returns the pending batches for entityType, skipping directions
// with nothing pending.
func (s *BatchService) Status(ctx context.Context, entityType string) ([]*batch.PendingBatch, error) {
	var pending []*batch.PendingBatch
	for _, dir := range batch.Directions {
		b, err := s.store.Get(ctx, batch.Key{EntityType: entityType, Direction: dir})
		if err != nil {
			return nil, err
		}
		if !b.IsEmpty() {
			pending = append(pending, b)
		}
	}
	return pending, nil
}

// ActiveEntityTypes lists the registry.
func (s *BatchService) ActiveEntityTypes(ctx context.Context) ([]string, error) {
	return s.store.ListActive(ctx)
}

// Due reports which threshold b has crossed, if any, and how old it is.
func (s *BatchService) Due(b *batch.PendingBatch) (batch.FlushReason, time.Duration) {
	now := s.now()
	return s.flushReason(b, now), b.Age(now)
}
