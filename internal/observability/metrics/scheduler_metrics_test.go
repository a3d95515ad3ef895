package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/tollgate/internal/apperr"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40001"}), want: SchedulerJobReasonSerializationFailure},
		{name: "validation", err: apperr.Validation("period_start", "invalid_period", "period start must be before now"), want: SchedulerJobReasonValidation},
		{name: "storage", err: apperr.Transient(errors.New("conn reset")), want: SchedulerJobReasonStorage},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSchedulerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "tollgate", Environment: "test"})

	m.IncJobRun("usage_cycle")
	m.IncJobRun("usage_cycle")
	m.IncJobSkipped("usage_cycle")
	m.IncJobError("usage_cycle", context.DeadlineExceeded)
	m.ObserveJobDuration("usage_cycle", 2*time.Second)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("usage_cycle")); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobSkipped.WithLabelValues("usage_cycle")); got != 1 {
		t.Fatalf("expected 1 skip, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("usage_cycle", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 deadline error, got %v", got)
	}
}

func TestEngineMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newEngineMetrics(registry, Config{Environment: "test"})

	m.IncFlagResolution("", "ok")
	m.IncFlagResolution("tenant", "ok")
	m.IncEntitlementDecision("plan", true)
	m.AddCycleNotifications("usage_breach", 3)
	m.AddCycleNotifications("usage_warning", 0)

	if got := testutil.ToFloat64(m.flagResolutions.WithLabelValues("default", "ok")); got != 1 {
		t.Fatalf("expected default resolution counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.entitlementDecisions.WithLabelValues("plan", "true")); got != 1 {
		t.Fatalf("expected plan decision counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.cycleNotifications.WithLabelValues("usage_breach")); got != 3 {
		t.Fatalf("expected 3 breaches, got %v", got)
	}
	if got := testutil.CollectAndCount(m.cycleNotifications); got != 1 {
		t.Fatalf("expected a single series, got %d", got)
	}
}
