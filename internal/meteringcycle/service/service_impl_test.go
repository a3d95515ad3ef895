package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tollgate/internal/apperr"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	auditrepo "github.com/smallbiznis/tollgate/internal/audit/repository"
	auditservice "github.com/smallbiznis/tollgate/internal/audit/service"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/config"
	"github.com/smallbiznis/tollgate/internal/joblock"
	"github.com/smallbiznis/tollgate/internal/meteringcycle/domain"
	notificationdomain "github.com/smallbiznis/tollgate/internal/notification/domain"
	notificationrepo "github.com/smallbiznis/tollgate/internal/notification/repository"
	notificationservice "github.com/smallbiznis/tollgate/internal/notification/service"
	planservice "github.com/smallbiznis/tollgate/internal/plan/service"
	subscriptiondomain "github.com/smallbiznis/tollgate/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/tollgate/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/tollgate/internal/subscription/service"
	usagedomain "github.com/smallbiznis/tollgate/internal/usage/domain"
	usagerepo "github.com/smallbiznis/tollgate/internal/usage/repository"
	usageservice "github.com/smallbiznis/tollgate/internal/usage/service"
	"github.com/smallbiznis/tollgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	periodStart = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cycleNow    = time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc             *Service
	locker          *joblock.LocalLocker
	subSvc          subscriptiondomain.Service
	usageSvc        usagedomain.Service
	notificationSvc notificationdomain.Service
	auditSvc        auditdomain.Service
}

func setupCycle(t *testing.T, wrapUsage func(usagedomain.Service) usagedomain.Service) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	db := dbtest.Open(t,
		&subscriptiondomain.Subscription{},
		&usagedomain.UsageEvent{},
		&notificationdomain.NotificationTask{},
		&auditdomain.AuditLog{},
	)
	fc := clock.NewFakeClock(cycleNow)
	log := zap.NewNop()
	catalog := planservice.New(config.NewStaticPlanCatalogHolder(config.DefaultPlans()))

	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: fc, Repo: auditrepo.Provide()})
	subSvc := subscriptionservice.New(subscriptionservice.Params{DB: db, Log: log, Clock: fc, Repo: subscriptionrepo.Provide(), Catalog: catalog})
	usageSvc := usageservice.New(usageservice.Params{DB: db, Log: log, GenID: node, Clock: fc, Repo: usagerepo.Provide()})
	notificationSvc := notificationservice.New(notificationservice.Params{DB: db, Log: log, GenID: node, Clock: fc, Repo: notificationrepo.Provide()})

	cycleUsage := usageSvc
	if wrapUsage != nil {
		cycleUsage = wrapUsage(usageSvc)
	}

	locker := joblock.NewLocalLocker()
	svc := New(Params{
		Log:             log,
		Config:          config.Config{Scheduler: config.SchedulerConfig{MaxWorkers: 2, CycleTimeout: time.Minute}},
		Locker:          locker,
		SubSvc:          subSvc,
		UsageSvc:        cycleUsage,
		Catalog:         catalog,
		NotificationSvc: notificationSvc,
		AuditSvc:        auditSvc,
	}).(*Service)
	svc.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}

	return fixture{
		svc:             svc,
		locker:          locker,
		subSvc:          subSvc,
		usageSvc:        usageSvc,
		notificationSvc: notificationSvc,
		auditSvc:        auditSvc,
	}
}

func (f fixture) subscribe(t *testing.T, org, plan string, status subscriptiondomain.Status) {
	t.Helper()
	_, err := f.subSvc.Upsert(context.Background(), subscriptiondomain.UpsertRequest{OrgID: org, PlanID: plan, Status: status})
	require.NoError(t, err)
}

func (f fixture) use(t *testing.T, org snowflake.ID, feature string, qty int64, at time.Time) {
	t.Helper()
	_, err := f.usageSvc.Record(context.Background(), usagedomain.RecordRequest{
		OrgID:      org,
		FeatureKey: feature,
		Quantity:   decimal.NewFromInt(qty),
		OccurredAt: at,
	})
	require.NoError(t, err)
}

func (f fixture) tasksFor(t *testing.T, org snowflake.ID) []notificationdomain.Response {
	t.Helper()
	resp, err := f.notificationSvc.List(context.Background(), notificationdomain.ListRequest{OrgID: &org})
	require.NoError(t, err)
	return resp.Tasks
}

func TestRunCycleEmitsWarningAndBreach(t *testing.T) {
	f := setupCycle(t, nil)
	f.subscribe(t, "1", "pro", subscriptiondomain.StatusActive)
	f.subscribe(t, "2", "pro", subscriptiondomain.StatusTrialing)
	f.subscribe(t, "3", "pro", subscriptiondomain.StatusPastDue)
	f.subscribe(t, "4", "enterprise", subscriptiondomain.StatusActive)

	f.use(t, 1, "api_calls", 40000, periodStart.Add(time.Hour))
	f.use(t, 1, "api_calls", 2500, periodStart.Add(2*time.Hour))
	f.use(t, 2, "api_calls", 51000, periodStart.Add(time.Hour))
	f.use(t, 3, "api_calls", 90000, periodStart.Add(time.Hour))
	f.use(t, 4, "api_calls", 9000000, periodStart.Add(time.Hour))

	result, err := f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 3, result.OrganizationsChecked)
	assert.Equal(t, 1, result.WarningCount)
	assert.Equal(t, 1, result.BreachCount)
	assert.Equal(t, 2, result.NotificationsCreated)
	assert.Zero(t, result.Failures)

	require.Len(t, result.Warnings, 1)
	warning := result.Warnings[0]
	assert.Equal(t, "1", warning.OrgID)
	assert.Equal(t, "api_calls", warning.Feature)
	assert.Equal(t, notificationdomain.AlertUsageWarning, warning.Type)
	assert.Equal(t, "42500", warning.CurrentUsage.String())
	assert.Equal(t, int64(50000), warning.Limit)
	assert.Equal(t, "85", warning.Percentage.String())
	assert.False(t, warning.ActionRequired)

	require.Len(t, result.Breaches, 1)
	breach := result.Breaches[0]
	assert.Equal(t, "2", breach.OrgID)
	assert.Equal(t, "api_calls", breach.Feature)
	assert.Equal(t, "102", breach.Percentage.String())
	assert.True(t, breach.ActionRequired)

	warnings := f.tasksFor(t, 1)
	require.Len(t, warnings, 1)
	assert.Equal(t, notificationdomain.PriorityNormal, warnings[0].Priority)
	assert.Equal(t, "usage_warning", warnings[0].Payload["type"])
	assertNumber(t, "85", warnings[0].Payload["percentage"])
	assertNumber(t, "42500", warnings[0].Payload["currentUsage"])
	assertNumber(t, "50000", warnings[0].Payload["limit"])
	assert.Equal(t, "pro", warnings[0].Payload["tier"])
	assert.Equal(t, false, warnings[0].Payload["actionRequired"])
	assert.Equal(t, result.RunID, warnings[0].CycleRunID)

	breaches := f.tasksFor(t, 2)
	require.Len(t, breaches, 1)
	assert.Equal(t, notificationdomain.PriorityHigh, breaches[0].Priority)
	assertNumber(t, "102", breaches[0].Payload["percentage"])
	assert.Equal(t, true, breaches[0].Payload["actionRequired"])

	assert.Empty(t, f.tasksFor(t, 3))
	assert.Empty(t, f.tasksFor(t, 4))

	logs, err := f.auditSvc.List(context.Background(), auditdomain.ListRequest{Action: "usage_cycle.completed"})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	entry := logs.AuditLogs[0]
	assertNumber(t, "3", entry.Metadata["companies_checked"])
	assertNumber(t, "1", entry.Metadata["breaches_found"])
	assertNumber(t, "1", entry.Metadata["warnings_found"])
	assertNumber(t, "2", entry.Metadata["notifications_created"])
}

func TestRunCycleEmptyWindowEmitsNothing(t *testing.T) {
	f := setupCycle(t, nil)
	f.subscribe(t, "1", "pro", subscriptiondomain.StatusActive)
	f.use(t, 1, "api_calls", 60000, periodStart.Add(-time.Hour))

	result, err := f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrganizationsChecked)
	assert.Zero(t, result.NotificationsCreated)
	assert.Empty(t, result.Breaches)
	assert.Empty(t, result.Warnings)
	assert.Empty(t, f.tasksFor(t, 1))
}

func TestRunCycleRejectsInvertedWindow(t *testing.T) {
	f := setupCycle(t, nil)

	_, err := f.svc.RunCycle(context.Background(), cycleNow, cycleNow)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.RunCycle(context.Background(), cycleNow.Add(time.Hour), cycleNow)
	assert.True(t, apperr.IsValidation(err))
}

func TestRunCycleInProgress(t *testing.T) {
	f := setupCycle(t, nil)
	f.subscribe(t, "1", "pro", subscriptiondomain.StatusActive)
	f.use(t, 1, "api_calls", 60000, periodStart.Add(time.Hour))

	token, ok, err := f.locker.TryLock(context.Background(), domain.LockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	assert.ErrorIs(t, err, domain.ErrCycleInProgress)
	assert.Empty(t, f.tasksFor(t, 1))

	require.NoError(t, f.locker.Release(context.Background(), domain.LockKey, token))
	_, err = f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	assert.NoError(t, err)
}

func TestRunCycleRerunReEmits(t *testing.T) {
	f := setupCycle(t, nil)
	f.subscribe(t, "1", "pro", subscriptiondomain.StatusActive)
	f.use(t, 1, "seats", 26, periodStart.Add(time.Hour))

	first, err := f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	require.NoError(t, err)
	second, err := f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Len(t, f.tasksFor(t, 1), 2)
}

type flakyUsage struct {
	usagedomain.Service
	failOrg   snowflake.ID
	err       error
	failTimes int32
	calls     atomic.Int32
}

func (u *flakyUsage) SumByFeature(ctx context.Context, orgID snowflake.ID, from, to time.Time) (map[string]decimal.Decimal, error) {
	if orgID == u.failOrg {
		n := u.calls.Add(1)
		if u.failTimes < 0 || n <= u.failTimes {
			return nil, u.err
		}
	}
	return u.Service.SumByFeature(ctx, orgID, from, to)
}

func TestRunCycleCountsOrganizationFailures(t *testing.T) {
	var flaky *flakyUsage
	f := setupCycle(t, func(svc usagedomain.Service) usagedomain.Service {
		flaky = &flakyUsage{Service: svc, failOrg: 1, err: errors.New("syntax error"), failTimes: -1}
		return flaky
	})
	f.subscribe(t, "1", "pro", subscriptiondomain.StatusActive)
	f.subscribe(t, "2", "pro", subscriptiondomain.StatusActive)
	f.subscribe(t, "3", "legacy_gold", subscriptiondomain.StatusActive)
	f.use(t, 2, "api_calls", 51000, periodStart.Add(time.Hour))

	result, err := f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 3, result.OrganizationsChecked)
	assert.Equal(t, 2, result.Failures)
	assert.Equal(t, 1, result.BreachCount)
	require.Len(t, result.Breaches, 1)
	assert.Equal(t, "2", result.Breaches[0].OrgID)
	// non transient errors are not retried
	assert.EqualValues(t, 1, flaky.calls.Load())
}

func TestRunCycleRetriesTransientSums(t *testing.T) {
	var flaky *flakyUsage
	f := setupCycle(t, func(svc usagedomain.Service) usagedomain.Service {
		flaky = &flakyUsage{Service: svc, failOrg: 1, err: apperr.Transient(errors.New("connection reset")), failTimes: 2}
		return flaky
	})
	f.subscribe(t, "1", "pro", subscriptiondomain.StatusActive)
	f.use(t, 1, "api_calls", 42500, periodStart.Add(time.Hour))

	result, err := f.svc.RunCycle(context.Background(), periodStart, cycleNow)
	require.NoError(t, err)
	assert.Zero(t, result.Failures)
	assert.Equal(t, 1, result.WarningCount)
	assert.Len(t, result.Warnings, 1)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

// assertNumber compares a JSON column value, which reads back as
// json.Number, against a decimal string.
func assertNumber(t *testing.T, want string, got any) {
	t.Helper()
	n, ok := got.(json.Number)
	require.True(t, ok, "expected json.Number, got %T", got)
	actual, err := decimal.NewFromString(string(n))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString(want).Equal(actual), "want %s, got %s", want, n)
}
