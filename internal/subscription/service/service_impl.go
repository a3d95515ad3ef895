package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/apperr"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/orgcontext"
	plandomain "github.com/smallbiznis/tollgate/internal/plan/domain"
	"github.com/smallbiznis/tollgate/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Catalog  plandomain.Catalog
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	catalog  plandomain.Catalog
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		catalog:  p.Catalog,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.Response, error) {
	orgID, err := orgcontext.ParseOrgID(req.OrgID)
	if err != nil {
		return nil, apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "org_id must be a positive integer id")
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return nil, apperr.Validation("plan_id", domain.ErrInvalidPlan.Error(), "plan_id is required")
	}
	status := domain.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !status.Valid() {
		return nil, apperr.Validation("status", domain.ErrInvalidStatus.Error(), "status must be one of trialing, active, past_due, canceled")
	}
	if req.CurrentPeriodStart != nil && req.CurrentPeriodEnd != nil && !req.CurrentPeriodStart.Before(*req.CurrentPeriodEnd) {
		return nil, apperr.Validation("current_period_end", domain.ErrInvalidPeriod.Error(), "current_period_end must be after current_period_start")
	}
	if _, ok := s.catalog.Plan(planID); !ok {
		// Entitlement checks deny unknown plans; the record is still kept so
		// that a later catalog reload can pick it up.
		s.log.Warn("subscription references unknown plan", zap.String("org_id", orgID.String()), zap.String("plan_id", planID))
	}

	now := s.clock.Now().UTC()
	sub := &domain.Subscription{
		OrgID:              orgID,
		PlanID:             planID,
		Status:             status,
		CurrentPeriodStart: utcPtr(req.CurrentPeriodStart),
		CurrentPeriodEnd:   utcPtr(req.CurrentPeriodEnd),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Upsert(ctx, s.db, sub); err != nil {
		return nil, apperr.Storage(err)
	}

	if s.auditSvc != nil {
		target := orgID.String()
		if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, "subscription.upserted", "subscription", &target, map[string]any{
			"plan_id": planID,
			"status":  string(status),
		}); err != nil {
			s.log.Warn("audit write failed", zap.Error(err))
		}
	}

	resp := toResponse(sub)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, orgID string) (*domain.Response, error) {
	id, err := orgcontext.ParseOrgID(orgID)
	if err != nil {
		return nil, apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "org_id must be a positive integer id")
	}
	sub, err := s.FindByOrg(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(sub)
	return &resp, nil
}

// FindByOrg returns NotFound when the organization has no subscription record.
func (s *Service) FindByOrg(ctx context.Context, orgID snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if sub == nil {
		return nil, apperr.NotFound("subscription")
	}
	return sub, nil
}

// ListBillable returns subscriptions whose status grants access.
func (s *Service) ListBillable(ctx context.Context) ([]domain.Subscription, error) {
	items, err := s.repo.ListByStatus(ctx, s.db, []domain.Status{domain.StatusActive, domain.StatusTrialing})
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return items, nil
}

func toResponse(sub *domain.Subscription) domain.Response {
	return domain.Response{
		OrgID:              sub.OrgID.String(),
		PlanID:             sub.PlanID,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		UpdatedAt:          sub.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
