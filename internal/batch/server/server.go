package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/scoutbatch-go/internal/batch/adapters/events"
	"github.com/scoutbatch-go/internal/batch/adapters/handlers"
	"github.com/scoutbatch-go/internal/batch/adapters/scheduler"
	"github.com/scoutbatch-go/pkg/config"
	pkgevents "github.com/scoutbatch-go/pkg/events"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/scoutbatch-go/pkg/middleware/auth"
	"github.com/scoutbatch-go/pkg/ratelimit"
	"github.com/scoutbatch-go/pkg/telemetry"
)

type Server struct {
	app        *App
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	scheduler  *scheduler.SweepScheduler
	eventBus   pkgevents.EventBus
	consumer   *events.Consumer
	telemetry  *telemetry.Telemetry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	app, err := NewApp(cfg, log)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(cfg.Telemetry.ToTelemetryConfig())
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &Server{
		app:       app,
		config:    cfg,
		logger:    log,
		telemetry: tel,
	}

	if cfg.Scheduler.Enabled {
		s.scheduler = scheduler.NewSweepScheduler(app.Service, app.Redis, scheduler.Config{
			Spec:    cfg.Scheduler.Spec,
			LockKey: app.Store.Keys().SweepLockKey(),
			LockTTL: cfg.Scheduler.LockTTLDuration(),
		}, log)
	}

	if cfg.Kafka.Enabled {
		// Initialize event bus
		bus, err := pkgevents.NewKafkaEventBus(cfg.Kafka.ToKafkaConfig(), log)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
		s.eventBus = bus
		s.consumer = events.NewConsumer(app.Service, log)
	}

	checks := map[string]handlers.ReadinessCheck{
		"redis": func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() },
	}
	if app.DB != nil {
		checks["database"] = app.DB.Ping
	}

	opts := handlers.RouterOptions{
		Limiter:   ratelimit.NewTokenBucketLimiter(cfg.RateLimit.FlushRPS, cfg.RateLimit.FlushBurst),
		Telemetry: tel,
		Stream:    app.Stream,
		Logger:    log,
	}
	if len(cfg.Server.APIKeys) > 0 {
		opts.Keys = auth.NewStaticKeyValidator(cfg.Server.ToStaticKeys())
	}
	router := handlers.NewRouter(handlers.NewBatchHandlers(app.Service, checks, log), opts)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return s, nil
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.app.Indexer.EnsureIndices(ctx, s.app.Catalog.Types()...); err != nil {
		s.logger.Warn("Failed to ensure search indices", "error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.app.Stream.Run(ctx)
	}()

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if s.consumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.consumer.Run(ctx, s.eventBus); err != nil {
				s.logger.Error("Event consumer stopped", "error", err)
			}
		}()
	}

	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	// Close event bus
	if s.eventBus != nil {
		if err := s.eventBus.Close(); err != nil {
			s.logger.Error("Failed to close event bus", "error", err)
		}
	}

	if err := s.telemetry.Close(ctx); err != nil {
		s.logger.Error("Failed to flush traces", "error", err)
	}

	if err := s.app.Close(); err != nil {
		s.logger.Error("Failed to close connections", "error", err)
	}

	return nil
}
