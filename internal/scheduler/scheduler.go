package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fulfillment-service/internal/reconcile"
	"github.com/VictoriaMetrics/metrics"
)

// SweepLockKey is the Postgres advisory lock held while a sweep runs, so that
// only one replica sweeps at a time.
const SweepLockKey int64 = 0x5eed_0001

const defaultInterval = 5 * time.Minute

var (
	schedulerRunCounter     = metrics.GetOrCreateCounter(`reconcile_scheduler_total{result="run"}`)
	schedulerBusyCounter    = metrics.GetOrCreateCounter(`reconcile_scheduler_total{result="busy"}`)
	schedulerLockErrCounter = metrics.GetOrCreateCounter(`reconcile_scheduler_total{result="lock_failed"}`)
)

type Runner interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Locker takes a cross-process lock. ok is false when another holder has it.
type Locker func(ctx context.Context) (ok bool, release func(), err error)

type Scheduler struct {
	runner   Runner
	lock     Locker
	interval time.Duration
	mu       sync.Mutex
	logger   *slog.Logger
}

func New(runner Runner, lock Locker, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{runner: runner, lock: lock, interval: interval, logger: logger}
}

func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, _, err := s.RunOnce(ctx); err != nil {
					s.logger.ErrorContext(ctx, "Scheduled sweep failed", "error", err)
				}
			case <-ctx.Done():
				s.logger.InfoContext(ctx, "Context done, stopping sweep scheduler")
				return
			}
		}
	}()
}

// RunOnce runs a sweep unless one is already running here or on another
// replica; ran reports whether it did.
func (s *Scheduler) RunOnce(ctx context.Context) (report *reconcile.Report, ran bool, err error) {
	if !s.mu.TryLock() {
		s.logger.InfoContext(ctx, "Sweep already running in this process")
		schedulerBusyCounter.Inc()
		return nil, false, nil
	}
	defer s.mu.Unlock()

	if s.lock != nil {
		ok, release, err := s.lock(ctx)
		if err != nil {
			schedulerLockErrCounter.Inc()
			return nil, false, err
		}
		if !ok {
			s.logger.InfoContext(ctx, "Sweep lock held by another instance")
			schedulerBusyCounter.Inc()
			return nil, false, nil
		}
		defer release()
	}

	schedulerRunCounter.Inc()
	report, err = s.runner.Run(ctx)
	return report, true, err
}
