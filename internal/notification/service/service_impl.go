package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/notification/domain"
	"github.com/smallbiznis/tollgate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// EnqueueUsageAlerts writes one pending usage-alert task per alert in a
// single batch and returns how many were written.
func (s *Service) EnqueueUsageAlerts(ctx context.Context, orgID snowflake.ID, cycleRunID string, alerts []domain.UsageAlert) (int, error) {
	if orgID == 0 {
		return 0, apperr.Validation("org_id", domain.ErrInvalidOrganization.Error(), "organization is required")
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	now := s.clock.Now().UTC()
	tasks := make([]domain.NotificationTask, 0, len(alerts))
	for _, alert := range alerts {
		if alert.Type != domain.AlertUsageWarning && alert.Type != domain.AlertUsageBreach {
			return 0, apperr.Validation("type", domain.ErrInvalidAlert.Error(), "alert type must be usage_warning or usage_breach")
		}
		if strings.TrimSpace(alert.Feature) == "" {
			return 0, apperr.Validation("feature", domain.ErrInvalidAlert.Error(), "alert feature is required")
		}
		tasks = append(tasks, domain.NotificationTask{
			ID:           s.genID.Generate(),
			OrgID:        orgID,
			FunctionName: domain.FunctionUsageAlert,
			Payload:      alert.Payload(),
			Priority:     alert.Priority(),
			Status:       domain.StatusPending,
			CycleRunID:   cycleRunID,
			CreatedAt:    now,
		})
	}

	if err := s.repo.InsertBatch(ctx, s.db, tasks); err != nil {
		s.log.Error("failed to enqueue usage alerts",
			zap.String("org_id", orgID.String()),
			zap.String("cycle_run_id", cycleRunID),
			zap.Int("count", len(tasks)),
			zap.Error(err),
		)
		return 0, apperr.Storage(err)
	}
	return len(tasks), nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Status != "" && req.Status != domain.StatusPending {
		return domain.ListResponse{}, apperr.Validation("status", domain.ErrInvalidStatus.Error(), "status must be pending")
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, apperr.Validation("page_token", err.Error(), "page_token is invalid")
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		OrgID:      req.OrgID,
		Status:     req.Status,
		CycleRunID: strings.TrimSpace(req.CycleRunID),
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return domain.ListResponse{}, apperr.Storage(err)
	}

	items, pageInfo := pagination.Page(items, limit, func(item domain.NotificationTask) pagination.Cursor {
		return pagination.Cursor{ID: item.ID, CreatedAt: item.CreatedAt}
	})
	tasks := lo.Map(items, func(item domain.NotificationTask, _ int) domain.Response {
		return domain.Response{
			ID:           item.ID.String(),
			OrgID:        item.OrgID.String(),
			FunctionName: item.FunctionName,
			Payload:      item.Payload,
			Priority:     item.Priority,
			Status:       item.Status,
			CycleRunID:   item.CycleRunID,
			CreatedAt:    item.CreatedAt,
		}
	})
	return domain.ListResponse{PageInfo: pageInfo, Tasks: tasks}, nil
}
