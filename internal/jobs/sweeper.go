package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kovalev/memoria/internal/provider"
	"github.com/kovalev/memoria/internal/storage"
)

// Sweeper runs the periodic maintenance tasks: provider health checks
// and removal of dead failed jobs. Sweeps run on their own schedule,
// decoupled from workers, and only write their own tables.
type Sweeper struct {
	store    *storage.Store
	registry *provider.Registry
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewSweeper creates a sweeper over the given store and registry.
func NewSweeper(store *storage.Store, registry *provider.Registry, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		registry: registry,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules both sweeps and begins running them. Stop with Stop.
func (s *Sweeper) Start(ctx context.Context, healthInterval, cleanupInterval time.Duration) error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", healthInterval), func() {
		if err := s.HealthSweep(ctx); err != nil {
			s.logger.Error("health sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling health sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", cleanupInterval), func() {
		if err := s.CleanupSweep(ctx); err != nil {
			s.logger.Error("cleanup sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling cleanup sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for in-flight sweeps to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// HealthSweep probes every configured provider concurrently and records
// the result. A provider that cannot be constructed is recorded as
// unhealthy rather than aborting the sweep.
func (s *Sweeper) HealthSweep(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.registry.Names() {
		name := name
		g.Go(func() error {
			p, err := s.registry.Resolve(name)
			if err != nil {
				return s.store.RecordHealthCheck(gctx, name, false, 0, err.Error())
			}

			start := time.Now()
			healthy := p.Healthy(gctx)
			elapsed := time.Since(start)

			errMsg := ""
			if !healthy {
				errMsg = "health check failed"
			}
			s.logger.Debug("provider health checked",
				"provider", name, "healthy", healthy, "elapsed", elapsed)
			return s.store.RecordHealthCheck(gctx, name, healthy, elapsed, errMsg)
		})
	}
	return g.Wait()
}

// CleanupSweep deletes failed jobs that exhausted their attempts.
func (s *Sweeper) CleanupSweep(ctx context.Context) error {
	n, err := s.store.CleanupFailedJobs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("removed dead embedding jobs", "count", n)
	}
	return nil
}
