package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/apperr"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/entitlement/domain"
	flagdomain "github.com/smallbiznis/tollgate/internal/flag/domain"
	"github.com/smallbiznis/tollgate/internal/observability/metrics"
	"github.com/smallbiznis/tollgate/internal/orgcontext"
	plandomain "github.com/smallbiznis/tollgate/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tollgate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	SubSvc   subscriptiondomain.Service
	Catalog  plandomain.Catalog
	AuditSvc auditdomain.Service    `optional:"true"`
	Metrics  *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	subSvc   subscriptiondomain.Service
	catalog  plandomain.Catalog
	auditSvc auditdomain.Service
	metrics  *metrics.EngineMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("entitlement.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		subSvc:   p.SubSvc,
		catalog:  p.Catalog,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) IsEntitled(ctx context.Context, orgID snowflake.ID, featureKey string, now time.Time) bool {
	return s.Check(ctx, orgID, featureKey, now).Allowed
}

// Check evaluates subscription status, then an unexpired override, then the
// plan's feature set. Every failure path denies.
func (s *Service) Check(ctx context.Context, orgID snowflake.ID, featureKey string, now time.Time) domain.Decision {
	feature := strings.ToLower(strings.TrimSpace(featureKey))
	decision := s.check(ctx, orgID, feature, now)
	decision.Feature = feature
	s.metrics.IncEntitlementDecision(string(decision.Source), decision.Allowed)
	return decision
}

func (s *Service) check(ctx context.Context, orgID snowflake.ID, feature string, now time.Time) domain.Decision {
	deny := func(reason string) domain.Decision {
		return domain.Decision{Allowed: false, Source: domain.SourceNone, Reason: reason}
	}
	if feature == "" {
		return deny(domain.ReasonInvalidFeature)
	}
	if orgID == 0 {
		return deny(domain.ReasonSubscriptionNotFound)
	}

	sub, err := s.subSvc.FindByOrg(ctx, orgID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return deny(domain.ReasonSubscriptionNotFound)
		}
		s.log.Error("entitlement check denied on subscription lookup failure",
			zap.String("org_id", orgID.String()),
			zap.String("feature", feature),
			zap.Error(err),
		)
		return deny(domain.ReasonLookupFailed)
	}
	if !sub.Status.GrantsAccess() {
		d := deny(domain.ReasonSubscriptionInactive)
		d.PlanID = sub.PlanID
		return d
	}

	override, err := s.repo.Find(ctx, s.db, orgID, feature)
	if err != nil {
		s.log.Error("entitlement check denied on override lookup failure",
			zap.String("org_id", orgID.String()),
			zap.String("feature", feature),
			zap.Error(err),
		)
		d := deny(domain.ReasonLookupFailed)
		d.PlanID = sub.PlanID
		return d
	}
	if override != nil && override.ActiveAt(now) {
		reason := domain.ReasonOverrideDisabled
		if override.Enabled {
			reason = domain.ReasonOverrideEnabled
		}
		return domain.Decision{Allowed: override.Enabled, Source: domain.SourceOverride, Reason: reason, PlanID: sub.PlanID}
	}

	plan, ok := s.catalog.Plan(sub.PlanID)
	if !ok {
		d := deny(domain.ReasonUnknownPlan)
		d.PlanID = sub.PlanID
		return d
	}
	if plan.HasFeature(feature) {
		return domain.Decision{Allowed: true, Source: domain.SourcePlan, Reason: domain.ReasonPlanIncludes, PlanID: plan.ID}
	}
	return domain.Decision{Allowed: false, Source: domain.SourcePlan, Reason: domain.ReasonPlanExcludes, PlanID: plan.ID}
}

func (s *Service) UpsertOverride(ctx context.Context, req domain.UpsertOverrideRequest) (*domain.OverrideResponse, error) {
	orgID, err := orgcontext.ParseOrgID(req.OrgID)
	if err != nil {
		return nil, apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "org_id must be a positive integer id")
	}
	feature, ok := flagdomain.NormalizeKey(req.FeatureKey)
	if !ok {
		return nil, apperr.Validation("feature_key", domain.ErrInvalidFeatureKey.Error(), "feature_key must match [a-z0-9_.-]+ and be at most 128 characters")
	}

	now := s.clock.Now().UTC()
	override := &domain.Override{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		FeatureKey: feature,
		Enabled:    req.Enabled,
		Reason:     strings.TrimSpace(req.Reason),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.ExpiresAt != nil {
		expiresAt := req.ExpiresAt.UTC()
		override.ExpiresAt = &expiresAt
	}

	stored, err := s.repo.Upsert(ctx, s.db, override)
	if err != nil {
		return nil, apperr.Storage(err)
	}

	s.audit(ctx, orgID, "entitlement.override_upserted", feature, map[string]any{
		"enabled": stored.Enabled,
		"reason":  stored.Reason,
	})

	resp := toResponse(stored)
	return &resp, nil
}

// DeleteOverride removes an override so the plan decides again.
func (s *Service) DeleteOverride(ctx context.Context, orgID, featureKey string) error {
	id, err := orgcontext.ParseOrgID(orgID)
	if err != nil {
		return apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "org_id must be a positive integer id")
	}
	feature, ok := flagdomain.NormalizeKey(featureKey)
	if !ok {
		return apperr.Validation("feature_key", domain.ErrInvalidFeatureKey.Error(), "feature_key must match [a-z0-9_.-]+")
	}

	deleted, err := s.repo.Delete(ctx, s.db, id, feature)
	if err != nil {
		return apperr.Storage(err)
	}
	if !deleted {
		return apperr.NotFound("entitlement override")
	}

	s.audit(ctx, id, "entitlement.override_deleted", feature, nil)
	return nil
}

func (s *Service) ListOverrides(ctx context.Context, orgID string) ([]domain.OverrideResponse, error) {
	id, err := orgcontext.ParseOrgID(orgID)
	if err != nil {
		return nil, apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "org_id must be a positive integer id")
	}
	items, err := s.repo.ListByOrg(ctx, s.db, id)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	resp := make([]domain.OverrideResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action, feature string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "entitlement", &feature, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func toResponse(o *domain.Override) domain.OverrideResponse {
	return domain.OverrideResponse{
		ID:         o.ID.String(),
		OrgID:      o.OrgID.String(),
		FeatureKey: o.FeatureKey,
		Enabled:    o.Enabled,
		ExpiresAt:  o.ExpiresAt,
		Reason:     o.Reason,
		Source:     domain.SourceOverride,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}
