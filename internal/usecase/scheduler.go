package usecase

import (
	"context"
	"log/slog"
	"time"

	"TrendWatcher/internal/ports"
)

// Scheduler wires the ticker driver with the bulk refresh use case.
type Scheduler struct {
	driver  ports.Scheduler
	service *Service
	logger  *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring refreshes.
func NewScheduler(driver ports.Scheduler, service *Service, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, service: service, logger: logger.With("component", "scheduler")}
}

// Start registers the bulk refresh with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.service == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if err := s.service.RefreshAll(ctx); err != nil {
			s.logger.Warn("scheduled refresh not queued", "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
