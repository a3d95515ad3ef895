package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/smallbiznis/tollgate/internal/clock"
	flagdomain "github.com/smallbiznis/tollgate/internal/flag/domain"
	"github.com/smallbiznis/tollgate/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/tollgate/internal/usage/domain"
	"github.com/smallbiznis/tollgate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxIdempotencyKeyLength = 255

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	Metrics *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	metrics *metrics.EngineMetrics
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// Record appends one usage event. A repeated idempotency key for the same
// organization returns the stored event instead of writing a second row.
func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.RecordResponse, error) {
	event, err := s.buildEvent(req)
	if err != nil {
		s.metrics.IncUsageRecorded("rejected")
		return nil, err
	}

	inserted, err := s.repo.Insert(ctx, s.db, event)
	if err != nil {
		s.metrics.IncUsageRecorded("error")
		s.log.Error("failed to record usage event",
			zap.String("org_id", event.OrgID.String()),
			zap.String("feature", event.FeatureKey),
			zap.Error(err),
		)
		return nil, apperr.Storage(err)
	}

	if !inserted {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, event.OrgID, *event.IdempotencyKey)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		if existing == nil {
			return nil, apperr.Transient(usagedomain.ErrInvalidIdempotency)
		}
		s.metrics.IncUsageRecorded("duplicate")
		resp := toResponse(existing)
		resp.Duplicate = true
		return &resp, nil
	}

	s.metrics.IncUsageRecorded("accepted")
	resp := toResponse(event)
	return &resp, nil
}

func (s *Service) buildEvent(req usagedomain.RecordRequest) (*usagedomain.UsageEvent, error) {
	if req.OrgID == 0 {
		return nil, apperr.Validation("org_id", usagedomain.ErrInvalidOrganization.Error(), "organization is required")
	}
	feature, ok := flagdomain.NormalizeKey(req.FeatureKey)
	if !ok {
		return nil, apperr.Validation("feature_key", usagedomain.ErrInvalidFeatureKey.Error(), "feature_key must match [a-z0-9_.-]+ and be at most 128 characters")
	}
	if req.Quantity.IsNegative() {
		return nil, apperr.Validation("quantity", usagedomain.ErrInvalidQuantity.Error(), "quantity must be zero or greater")
	}

	var idempotencyKey *string
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		if len(key) > maxIdempotencyKeyLength {
			return nil, apperr.Validation("idempotency_key", usagedomain.ErrInvalidIdempotency.Error(), "idempotency_key must be at most 255 characters")
		}
		idempotencyKey = lo.ToPtr(key)
	}

	now := s.clock.Now().UTC()
	occurredAt := req.OccurredAt.UTC()
	if req.OccurredAt.IsZero() {
		occurredAt = now
	}

	var metadata datatypes.JSONMap
	if len(req.Metadata) > 0 {
		metadata = datatypes.JSONMap(lo.OmitByKeys(req.Metadata, []string{""}))
	}

	return &usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		OrgID:          req.OrgID,
		FeatureKey:     feature,
		Quantity:       req.Quantity,
		OccurredAt:     occurredAt,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedAt:      now,
	}, nil
}

// SumByFeature totals quantities per feature over [from, to).
func (s *Service) SumByFeature(ctx context.Context, orgID snowflake.ID, from, to time.Time) (map[string]decimal.Decimal, error) {
	if orgID == 0 {
		return nil, apperr.Validation("org_id", usagedomain.ErrInvalidOrganization.Error(), "organization is required")
	}
	if from.After(to) {
		return nil, apperr.Validation("from", usagedomain.ErrInvalidTimeRange.Error(), "from must not be after to")
	}
	if from.Equal(to) {
		return map[string]decimal.Decimal{}, nil
	}

	rows, err := s.repo.SumByFeature(ctx, s.db, orgID, from, to)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	totals := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[row.FeatureKey] = row.Total
	}
	return totals, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListRequest) (usagedomain.ListResponse, error) {
	if req.OrgID == 0 {
		return usagedomain.ListResponse{}, apperr.Validation("org_id", usagedomain.ErrInvalidOrganization.Error(), "organization is required")
	}
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return usagedomain.ListResponse{}, apperr.Validation("from", usagedomain.ErrInvalidTimeRange.Error(), "from must not be after to")
	}
	feature := ""
	if strings.TrimSpace(req.FeatureKey) != "" {
		normalized, ok := flagdomain.NormalizeKey(req.FeatureKey)
		if !ok {
			return usagedomain.ListResponse{}, apperr.Validation("feature_key", usagedomain.ErrInvalidFeatureKey.Error(), "feature_key must match [a-z0-9_.-]+")
		}
		feature = normalized
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return usagedomain.ListResponse{}, apperr.Validation("page_token", err.Error(), "page_token is invalid")
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, usagedomain.ListFilter{
		OrgID:      req.OrgID,
		FeatureKey: feature,
		From:       req.From,
		To:         req.To,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return usagedomain.ListResponse{}, apperr.Storage(err)
	}

	items, pageInfo := pagination.Page(items, limit, func(item usagedomain.UsageEvent) pagination.Cursor {
		return pagination.Cursor{ID: item.ID, CreatedAt: item.OccurredAt}
	})
	events := lo.Map(items, func(item usagedomain.UsageEvent, _ int) usagedomain.RecordResponse {
		return toResponse(&item)
	})
	return usagedomain.ListResponse{PageInfo: pageInfo, Events: events}, nil
}

func toResponse(e *usagedomain.UsageEvent) usagedomain.RecordResponse {
	return usagedomain.RecordResponse{
		ID:             e.ID.String(),
		OrgID:          e.OrgID.String(),
		FeatureKey:     e.FeatureKey,
		Quantity:       e.Quantity,
		OccurredAt:     e.OccurredAt,
		IdempotencyKey: e.IdempotencyKey,
		Metadata:       e.Metadata,
		CreatedAt:      e.CreatedAt,
	}
}
