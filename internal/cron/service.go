package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service ticks every Interval and, while holding the cluster-wide lock, runs
// each due job in registration order. A failing job never stops the ones
// after it; the cycle reports all failures together.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("cron: logger required")
	case params.Lock == nil:
		return nil, errors.New("cron: lock required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run performs one cycle immediately, then one per tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle finished with failures", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunJob runs one job now, ignoring its period. It fails with CodeConflict
// when another worker holds the lock.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.registry.Find(name)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "unknown cron job").WithDetails(map[string]any{"job": name})
	}
	return s.locked(ctx, func() error { return s.runJob(ctx, job) }, func() error {
		return pkgerrors.New(pkgerrors.CodeConflict, "another cron instance holds the lock")
	})
}

func (s *Service) runCycle(ctx context.Context) error {
	return s.locked(ctx, func() error {
		var errs error
		ran := 0
		for _, job := range s.registry.Jobs() {
			if !s.due(job) {
				continue
			}
			ran++
			errs = multierr.Append(errs, s.runJob(ctx, job))
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"jobsRun": ran, "jobsFailed": len(multierr.Errors(errs))}), "cron cycle complete")
		return errs
	}, func() error {
		s.logg.Info(ctx, "cron lock held by another instance; skipping cycle")
		return nil
	})
}

// locked runs fn while holding the lock, or busy when the lock is taken.
func (s *Service) locked(ctx context.Context, fn, busy func() error) error {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !ok {
		s.metrics.LockContended()
		return busy()
	}
	defer func() {
		// release even when ctx was cancelled mid-cycle
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()
	return fn()
}

func (s *Service) due(job Job) bool {
	scheduled, ok := job.(Scheduled)
	if !ok || scheduled.Every() <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ran := s.lastRun[job.Name()]
	return !ran || s.now().Sub(last) >= scheduled.Every()
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	name := job.Name()
	ctx = s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	start := s.now()
	err := job.Run(ctx)
	elapsed := s.now().Sub(start)

	s.mu.Lock()
	s.lastRun[name] = start
	s.mu.Unlock()
	s.metrics.ObserveRun(name, start, elapsed, err)

	ctx = s.logg.WithField(ctx, "durationMs", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	s.logg.Info(ctx, "cron job completed")
	return nil
}
