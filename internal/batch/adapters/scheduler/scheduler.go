package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/scoutbatch-go/internal/batch/app/service"
	"github.com/scoutbatch-go/pkg/logger"
)

const DefaultSpec = "0 * * * * *"

// Sweeper runs one pass over every active entity type.
type Sweeper interface {
	CheckAndFlushAllActive(ctx context.Context) (service.SweepReport, error)
}

type Config struct {
	// Spec is a cron expression with a leading seconds field.
	Spec    string
	LockKey string
	LockTTL time.Duration
}

// releaseScript deletes the lock only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepScheduler triggers the sweep on a cron schedule. A Redis lock makes
// sure only one replica sweeps per tick.
type SweepScheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	redis   *redis.Client
	config  Config
	owner   string
	logger  logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entryID cron.EntryID
}

func NewSweepScheduler(sweeper Sweeper, client *redis.Client, cfg Config, log logger.Logger) *SweepScheduler {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}

	// Create cron with seconds field
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	return &SweepScheduler{
		cron:    c,
		sweeper: sweeper,
		redis:   client,
		config:  cfg,
		owner:   uuid.New().String(),
		logger:  log.Named("scheduler"),
	}
}

func (s *SweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.config.Spec, s.tick)
	if err != nil {
		s.cancel()
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.Spec, err)
	}
	s.entryID = id

	s.logger.Info("Starting sweep scheduler", "spec", s.config.Spec, "owner", s.owner)
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	s.logger.Info("Stopping sweep scheduler")
	done := s.cron.Stop()
	<-done.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Next reports when the sweep runs next. Zero before Start.
func (s *SweepScheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *SweepScheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Scheduled sweep failed", "error", err)
	}
}

// RunOnce sweeps when no other replica holds the lock. It reports whether
// this call did the sweep.
func (s *SweepScheduler) RunOnce(ctx context.Context) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.config.LockKey, s.owner, s.config.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		s.logger.Debug("Sweep lock held elsewhere, skipping tick")
		return false, nil
	}
	defer func() {
		// release with a fresh context so cancellation still frees the lock
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, s.redis, []string{s.config.LockKey}, s.owner).Err(); err != nil {
			s.logger.Warn("Failed to release sweep lock", "error", err)
		}
	}()

	report, err := s.sweeper.CheckAndFlushAllActive(ctx)
	s.logger.Info("Sweep finished",
		"visited", len(report.Visited),
		"flushed", report.Flushed(),
		"misconfigured", len(report.Misconfigured),
		"duration", report.Duration,
	)
	return true, err
}
