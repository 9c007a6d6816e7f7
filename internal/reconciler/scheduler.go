package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/prom"
	"go.uber.org/multierr"
)

type Pass string

const (
	PassFine   Pass = "fine"
	PassCoarse Pass = "coarse"
)

const (
	DefaultInterval       = 2 * time.Minute
	DefaultCoarseInterval = 4 * time.Hour
	DefaultCoarseMaxPages = 50
	ReportInterval        = time.Minute
)

type Runner interface {
	RunBatch(ctx context.Context) Report
	RunAll(ctx context.Context, maxPages int) Report
}

type SchedulerConfig struct {
	Interval       time.Duration
	CoarseInterval time.Duration
	CoarseMaxPages int
}

// Scheduler runs the fine pass often and the coarse pass rarely. Each pass
// holds the run lock for its duration, so only one instance runs it.
type Scheduler struct {
	runner  Runner
	lock    *RunLock
	config  SchedulerConfig
	metrics map[Pass]*RunMetrics

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(runner Runner, lock *RunLock, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.CoarseInterval <= 0 {
		config.CoarseInterval = DefaultCoarseInterval
	}
	if config.CoarseMaxPages <= 0 {
		config.CoarseMaxPages = DefaultCoarseMaxPages
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: runner,
		lock:   lock,
		config: config,
		metrics: map[Pass]*RunMetrics{
			PassFine:   NewRunMetrics(),
			PassCoarse: NewRunMetrics(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Start() {
	logger.Info("Starting reconcile scheduler", "interval", s.config.Interval, "coarse_interval", s.config.CoarseInterval)

	s.wg.Add(3)
	go s.loop(PassFine, s.config.Interval, true)
	go s.loop(PassCoarse, s.config.CoarseInterval, false)
	go s.metricsReporter()
}

// Stop cancels running passes and waits for the loops to return.
func (s *Scheduler) Stop() {
	logger.Info("Shutting down reconcile scheduler...")
	s.cancel()
	s.wg.Wait()
	s.reportMetrics()
	logger.Info("Reconcile scheduler stopped")
}

func (s *Scheduler) loop(pass Pass, interval time.Duration, immediate bool) {
	defer s.wg.Done()

	if immediate {
		s.runLogged(pass)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runLogged(pass)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runLogged(pass Pass) {
	log := logger.With("pass", pass)
	report, err := s.RunPass(s.ctx, pass)
	switch {
	case errors.Is(err, ErrLockHeld):
		log.Debug("Reconcile pass skipped, another instance holds the lock")
	case err != nil:
		log.Error("Reconcile pass failed", "error", err)
	case report.Err != nil:
		errs := multierr.Errors(report.Err)
		log.Warn("Reconcile pass finished with errors", "checked", report.Checked, "updated", report.Updated, "failed", report.Failed, "errors", len(errs), "first_error", errs[0])
	default:
		log.Info("Reconcile pass finished", "checked", report.Checked, "updated", report.Updated)
	}
}

// RunPass runs one pass now under the run lock. It returns ErrLockHeld when
// another instance is running the same pass.
func (s *Scheduler) RunPass(ctx context.Context, pass Pass) (Report, error) {
	metrics := s.metrics[pass]
	if metrics == nil {
		return Report{}, errors.New("unknown pass " + string(pass))
	}

	var lease *Lease
	if s.lock != nil {
		var err error
		lease, err = s.lock.Acquire(string(pass))
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				metrics.RecordSkip()
			}
			return Report{}, err
		}
		defer func() { _ = lease.Release() }()
	}

	started := time.Now()
	var report Report
	switch pass {
	case PassCoarse:
		report = s.runner.RunAll(ctx, s.config.CoarseMaxPages)
	default:
		report = s.runner.RunBatch(ctx)
	}
	elapsed := time.Since(started)

	metrics.RecordRun(report, elapsed)
	prom.AddReconcileRun(string(pass), elapsed.Seconds(), report.Updated, report.Failed)

	if lease != nil {
		if err := lease.MarkDone(time.Now()); err != nil {
			logger.Warn("Failed to record reconcile run", "pass", pass, "error", err)
		}
	}
	return report, nil
}

func (s *Scheduler) Stats(pass Pass) map[string]interface{} {
	if m := s.metrics[pass]; m != nil {
		return m.GetStats()
	}
	return nil
}

func (s *Scheduler) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) reportMetrics() {
	for _, pass := range []Pass{PassFine, PassCoarse} {
		stats := s.metrics[pass].GetStats()
		logger.Info("Reconcile metrics", "pass", pass, "runs", stats["runs"], "skipped", stats["skipped"], "updated", stats["orders_updated"], "failed", stats["orders_failed"], "avg_duration_ms", stats["avg_duration_ms"])

		if s.lock == nil {
			continue
		}
		if last, err := s.lock.LastRun(string(pass)); err == nil && !last.IsZero() {
			logger.Info("Reconcile last run", "pass", pass, "at", last, "ago", time.Since(last).Round(time.Second))
		}
	}
}
