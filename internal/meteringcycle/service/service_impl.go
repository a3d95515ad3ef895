package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tollgate/internal/apperr"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	"github.com/smallbiznis/tollgate/internal/config"
	"github.com/smallbiznis/tollgate/internal/joblock"
	"github.com/smallbiznis/tollgate/internal/meteringcycle/domain"
	notificationdomain "github.com/smallbiznis/tollgate/internal/notification/domain"
	"github.com/smallbiznis/tollgate/internal/observability/metrics"
	"github.com/smallbiznis/tollgate/internal/observability/tracing"
	plandomain "github.com/smallbiznis/tollgate/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tollgate/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tollgate/internal/usage/domain"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	tracerName     = "tollgate/meteringcycle"
	defaultWorkers = 4
	defaultLockTTL = 30 * time.Minute
	sumMaxRetries  = 3
)

type Params struct {
	fx.In

	Log             *zap.Logger
	Config          config.Config
	Locker          joblock.Locker
	SubSvc          subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	Catalog         plandomain.Catalog
	NotificationSvc notificationdomain.Service
	AuditSvc        auditdomain.Service    `optional:"true"`
	Metrics         *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	log             *zap.Logger
	locker          joblock.Locker
	subSvc          subscriptiondomain.Service
	usageSvc        usagedomain.Service
	catalog         plandomain.Catalog
	notificationSvc notificationdomain.Service
	auditSvc        auditdomain.Service
	metrics         *metrics.EngineMetrics

	maxWorkers int
	lockTTL    time.Duration
	newBackOff func() backoff.BackOff
}

func New(p Params) domain.Service {
	maxWorkers := p.Config.Scheduler.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultWorkers
	}
	lockTTL := p.Config.Scheduler.CycleTimeout
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Service{
		log:             p.Log.Named("meteringcycle.service"),
		locker:          p.Locker,
		subSvc:          p.SubSvc,
		usageSvc:        p.UsageSvc,
		catalog:         p.Catalog,
		notificationSvc: p.NotificationSvc,
		auditSvc:        p.AuditSvc,
		metrics:         p.Metrics,
		maxWorkers:      maxWorkers,
		lockTTL:         lockTTL,
		newBackOff:      defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, sumMaxRetries)
}

type orgOutcome struct {
	breaches      []domain.CycleAlert
	warnings      []domain.CycleAlert
	notifications int
}

// RunCycle evaluates every organization with an access granting subscription
// over [periodStart, now). Only one cycle runs at a time; a concurrent call
// returns ErrCycleInProgress without doing any work. Failures for a single
// organization are counted and never abort the cycle.
func (s *Service) RunCycle(ctx context.Context, periodStart, now time.Time) (*domain.CycleResult, error) {
	periodStart = periodStart.UTC()
	now = now.UTC()
	if periodStart.IsZero() || !periodStart.Before(now) {
		return nil, apperr.Validation("period_start", domain.ErrInvalidWindow.Error(), "period_start must be before now")
	}

	var result *domain.CycleResult
	err := joblock.Run(ctx, s.locker, domain.LockKey, s.lockTTL, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.run(ctx, periodStart, now)
		return runErr
	})
	if errors.Is(err, joblock.ErrLockHeld) {
		return nil, domain.ErrCycleInProgress
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) run(ctx context.Context, periodStart, now time.Time) (result *domain.CycleResult, err error) {
	started := time.Now()
	runID := ulid.Make().String()

	ctx, span := tracing.Start(ctx, tracerName, "usage_cycle.run",
		attribute.String("run_id", runID),
		attribute.String("period_start", periodStart.Format(time.RFC3339)),
	)
	defer func() { tracing.End(span, err) }()

	log := s.log.With(zap.String("run_id", runID))
	log.Info("usage cycle started",
		zap.Time("period_start", periodStart),
		zap.Time("period_end", now),
		zap.Int("max_workers", s.maxWorkers),
	)

	subs, err := s.subSvc.ListBillable(ctx)
	if err != nil {
		log.Error("usage cycle could not list subscriptions", zap.Error(err))
		return nil, err
	}

	result = &domain.CycleResult{
		RunID:                runID,
		PeriodStart:          periodStart,
		PeriodEnd:            now,
		Breaches:             []domain.CycleAlert{},
		Warnings:             []domain.CycleAlert{},
		OrganizationsChecked: len(subs),
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.maxWorkers)
	for _, sub := range subs {
		sub := sub // per-iteration copy; go.mod targets go 1.21 loop semantics
		p.Go(func() {
			outcome, orgErr := s.evaluateOrg(ctx, runID, sub, periodStart, now)

			mu.Lock()
			defer mu.Unlock()
			if orgErr != nil {
				result.Failures++
				s.metrics.IncCycleOrganization("failed")
				log.Warn("usage cycle organization failed",
					zap.String("org_id", sub.OrgID.String()),
					zap.String("plan_id", sub.PlanID),
					zap.Error(orgErr),
				)
				return
			}
			result.Breaches = append(result.Breaches, outcome.breaches...)
			result.Warnings = append(result.Warnings, outcome.warnings...)
			result.NotificationsCreated += outcome.notifications
			s.metrics.IncCycleOrganization("ok")
		})
	}
	p.Wait()

	sortAlerts(result.Breaches)
	sortAlerts(result.Warnings)
	result.BreachCount = len(result.Breaches)
	result.WarningCount = len(result.Warnings)

	s.metrics.AddCycleNotifications(string(notificationdomain.AlertUsageBreach), result.BreachCount)
	s.metrics.AddCycleNotifications(string(notificationdomain.AlertUsageWarning), result.WarningCount)
	s.metrics.ObserveCycleDuration(time.Since(started).Seconds())

	s.audit(ctx, result)

	log.Info("usage cycle completed",
		zap.Int("organizations_checked", result.OrganizationsChecked),
		zap.Int("breaches", result.BreachCount),
		zap.Int("warnings", result.WarningCount),
		zap.Int("notifications_created", result.NotificationsCreated),
		zap.Int("failures", result.Failures),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

func (s *Service) evaluateOrg(ctx context.Context, runID string, sub subscriptiondomain.Subscription, periodStart, now time.Time) (orgOutcome, error) {
	plan, ok := s.catalog.Plan(sub.PlanID)
	if !ok {
		return orgOutcome{}, domain.ErrUnknownPlan
	}
	limits := plan.FiniteLimits()
	if len(limits) == 0 {
		return orgOutcome{}, nil
	}

	totals, err := s.sumWithRetry(ctx, sub, periodStart, now)
	if err != nil {
		return orgOutcome{}, err
	}

	features := lo.Keys(limits)
	sort.Strings(features)

	var (
		alerts  []notificationdomain.UsageAlert
		outcome orgOutcome
	)
	for _, feature := range features {
		usage, ok := totals[feature]
		if !ok {
			usage = decimal.Zero
		}
		alert, ok := domain.Classify(feature, plan.ID, usage, limits[feature])
		if !ok {
			continue
		}
		alerts = append(alerts, alert)
		if alert.Type == notificationdomain.AlertUsageBreach {
			outcome.breaches = append(outcome.breaches, domain.NewCycleAlert(sub.OrgID.String(), alert))
		} else {
			outcome.warnings = append(outcome.warnings, domain.NewCycleAlert(sub.OrgID.String(), alert))
		}
	}
	if len(alerts) == 0 {
		return orgOutcome{}, nil
	}

	created, err := s.notificationSvc.EnqueueUsageAlerts(ctx, sub.OrgID, runID, alerts)
	if err != nil {
		return orgOutcome{}, err
	}
	outcome.notifications = created
	return outcome, nil
}

// sumWithRetry retries transient storage failures only.
func (s *Service) sumWithRetry(ctx context.Context, sub subscriptiondomain.Subscription, periodStart, now time.Time) (map[string]decimal.Decimal, error) {
	var totals map[string]decimal.Decimal
	op := func() error {
		var err error
		totals, err = s.usageSvc.SumByFeature(ctx, sub.OrgID, periodStart, now)
		if err != nil && !apperr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Debug("retrying usage sum",
			zap.String("org_id", sub.OrgID.String()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Service) audit(ctx context.Context, result *domain.CycleResult) {
	if s.auditSvc == nil {
		return
	}
	actorID := "usage-cycle"
	runID := result.RunID
	err := s.auditSvc.AuditLog(ctx, nil, auditdomain.ActorTypeSystem, &actorID, "usage_cycle.completed", "usage_cycle", &runID, map[string]any{
		"companies_checked":     result.OrganizationsChecked,
		"breaches_found":        result.BreachCount,
		"warnings_found":        result.WarningCount,
		"notifications_created": result.NotificationsCreated,
		"failures":              result.Failures,
		"period_start":          result.PeriodStart.Format(time.RFC3339),
		"period_end":            result.PeriodEnd.Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("audit write failed", zap.String("action", "usage_cycle.completed"), zap.Error(err))
	}
}

func sortAlerts(alerts []domain.CycleAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].OrgID != alerts[j].OrgID {
			return alerts[i].OrgID < alerts[j].OrgID
		}
		return alerts[i].Feature < alerts[j].Feature
	})
}
