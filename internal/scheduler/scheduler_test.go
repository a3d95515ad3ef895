package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/tollgate/internal/clock"
	meteringcycledomain "github.com/smallbiznis/tollgate/internal/meteringcycle/domain"
	obsmetrics "github.com/smallbiznis/tollgate/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCycle struct {
	calls []time.Time
	now   []time.Time
	err   error
	block bool
}

func (f *fakeCycle) RunCycle(ctx context.Context, periodStart, now time.Time) (*meteringcycledomain.CycleResult, error) {
	f.calls = append(f.calls, periodStart)
	f.now = append(f.now, now)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &meteringcycledomain.CycleResult{RunID: "01J", PeriodStart: periodStart, PeriodEnd: now, OrganizationsChecked: 2}, nil
}

func newTestScheduler(t *testing.T, cycle meteringcycledomain.Service, cfg Config) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	s, err := New(Params{
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 6, 20, 9, 30, 0, 0, time.UTC)),
		CycleSvc: cycle,
		Metrics:  obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "tollgate", Environment: "test"}),
		Config:   cfg,
	})
	require.NoError(t, err)
	return s, registry
}

func TestRunOnceUsesCurrentPeriod(t *testing.T) {
	cycle := &fakeCycle{}
	s, registry := newTestScheduler(t, cycle, Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, cycle.calls, 1)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), cycle.calls[0])
	assert.Equal(t, time.Date(2026, 6, 20, 9, 30, 0, 0, time.UTC), cycle.now[0])

	assert.Equal(t, float64(1), counterValue(t, registry, "tollgate_scheduler_job_runs_total", map[string]string{"job": jobUsageCycle}))
}

func TestRunOnceSkipsWhenCycleInProgress(t *testing.T) {
	s, registry := newTestScheduler(t, &fakeCycle{err: meteringcycledomain.ErrCycleInProgress}, Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, float64(1), counterValue(t, registry, "tollgate_scheduler_job_skipped_total", map[string]string{"job": jobUsageCycle}))
	assert.Zero(t, counterValue(t, registry, "tollgate_scheduler_job_errors_total", map[string]string{"job": jobUsageCycle}))
}

func TestRunOnceReturnsCycleErrors(t *testing.T) {
	s, registry := newTestScheduler(t, &fakeCycle{err: errors.New("boom")}, Config{})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), jobUsageCycle)
	assert.Equal(t, float64(1), counterValue(t, registry, "tollgate_scheduler_job_errors_total", map[string]string{
		"job":    jobUsageCycle,
		"reason": obsmetrics.SchedulerJobReasonUnknown,
	}))
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	s, registry := newTestScheduler(t, &fakeCycle{block: true}, Config{CycleTimeout: 5 * time.Millisecond})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, float64(1), counterValue(t, registry, "tollgate_scheduler_job_timeouts_total", map[string]string{"job": jobUsageCycle}))
	assert.Equal(t, float64(1), counterValue(t, registry, "tollgate_scheduler_job_errors_total", map[string]string{
		"job":    jobUsageCycle,
		"reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}))
}

func TestPeriodStart(t *testing.T) {
	cases := []struct {
		name   string
		now    time.Time
		anchor int
		want   time.Time
	}{
		{name: "mid month", now: time.Date(2026, 6, 20, 9, 0, 0, 0, time.UTC), anchor: 1, want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{name: "boundary returns closed period", now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), anchor: 1, want: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{name: "before anchor uses previous month", now: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), anchor: 15, want: time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)},
		{name: "after anchor", now: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), anchor: 15, want: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "non utc input", now: time.Date(2026, 7, 1, 1, 0, 0, 0, time.FixedZone("WIB", 7*3600)), anchor: 1, want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{name: "invalid anchor", now: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), anchor: 31, want: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PeriodStart(tc.now, tc.anchor))
		})
	}
}

// counterValue sums every series of name whose labels include want.
func counterValue(t *testing.T, registry *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
					break
				}
			}
			if match {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}
