package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/clock"
	meteringcycledomain "github.com/smallbiznis/tollgate/internal/meteringcycle/domain"
	obsmetrics "github.com/smallbiznis/tollgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobUsageCycle = "usage_cycle"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	CycleSvc meteringcycledomain.Service
	Metrics  *obsmetrics.SchedulerMetrics `optional:"true"`
	Config   Config                       `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	cycleSvc meteringcycledomain.Service
	metrics  *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.CycleSvc == nil {
		return nil, ErrInvalidConfig
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		cycleSvc: p.CycleSvc,
		metrics:  m,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.AddErrors(1)
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce triggers one usage cycle for the current period.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobUsageCycle, s.cfg.CycleTimeout, s.UsageCycleJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// UsageCycleJob evaluates usage from the start of the current period up to
// now. A cycle already running elsewhere is a skip, not a failure.
func (s *Scheduler) UsageCycleJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobUsageCycle)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now().UTC()
	periodStart := PeriodStart(now, s.cfg.PeriodAnchorDay)

	result, err := s.cycleSvc.RunCycle(ctx, periodStart, now)
	if errors.Is(err, meteringcycledomain.ErrCycleInProgress) {
		s.metrics.IncJobSkipped(jobUsageCycle)
		s.logger(ctx).Info("usage cycle already in progress, skipping",
			zap.String("run_id", run.runID),
		)
		return nil
	}
	if err != nil {
		return err
	}

	run.AddProcessed(result.OrganizationsChecked)
	run.AddErrors(result.Failures)
	s.logger(ctx).Info("usage cycle finished",
		zap.String("run_id", run.runID),
		zap.String("cycle_run_id", result.RunID),
		zap.Time("period_start", result.PeriodStart),
		zap.Int("breaches", result.BreachCount),
		zap.Int("warnings", result.WarningCount),
		zap.Int("failures", result.Failures),
	)
	return nil
}
