package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/apperr"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/flag/domain"
	"github.com/smallbiznis/tollgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service    `optional:"true"`
	Metrics  *metrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
	metrics  *metrics.EngineMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("flag.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// Resolve returns the value of the highest-precedence non-expired assertion
// for key, or def when none applies.
func (s *Service) Resolve(ctx context.Context, key string, rc domain.ResolveContext, def bool) (domain.ResolvedFlag, error) {
	normalized, ok := domain.NormalizeKey(key)
	if !ok {
		s.metrics.IncFlagResolution("", "configuration_error")
		return domain.ResolvedFlag{}, apperr.Configuration("flag key %q is empty or malformed", key)
	}
	if rc.RequireTenant && rc.OrgID == 0 {
		s.metrics.IncFlagResolution("", "configuration_error")
		return domain.ResolvedFlag{}, apperr.Configuration("flag %q requires a tenant context but no organization was supplied", normalized)
	}
	env := strings.TrimSpace(rc.Env)

	rows, err := s.repo.FindCandidates(ctx, s.db, normalized, env, rc.OrgID)
	if err != nil {
		s.metrics.IncFlagResolution("", "storage_error")
		return domain.ResolvedFlag{}, apperr.Storage(err)
	}

	picked := domain.Pick(rows, env, rc.OrgID, s.clock.Now())
	if picked == nil {
		s.metrics.IncFlagResolution("", "ok")
		return domain.ResolvedFlag{Key: normalized, Value: def, Default: true}, nil
	}

	s.metrics.IncFlagResolution(string(picked.Scope), "ok")
	return domain.ResolvedFlag{
		Key:     normalized,
		Value:   picked.Value,
		Payload: map[string]any(picked.Payload),
		Scope:   picked.Scope,
	}, nil
}

// Enabled is the fail-closed form of Resolve used on request paths. Storage
// failures read as false; configuration errors are still returned.
func (s *Service) Enabled(ctx context.Context, key, env string, orgID snowflake.ID) (bool, error) {
	resolved, err := s.Resolve(ctx, key, domain.ResolveContext{Env: env, OrgID: orgID}, false)
	if err != nil {
		if apperr.IsConfiguration(err) {
			return false, err
		}
		s.log.Warn("flag resolution failed closed",
			zap.String("flag_key", key),
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		return false, nil
	}
	return resolved.Value, nil
}

func (s *Service) Upsert(ctx context.Context, def domain.FlagDefinition) (*domain.Response, error) {
	normalized, err := def.Validate()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	flag := &domain.FeatureFlag{
		ID:             s.genID.Generate(),
		Key:            normalized.Key,
		Scope:          normalized.Scope,
		ScopeQualifier: domain.Qualifier(normalized.Scope, normalized.Env, normalized.OrgID),
		Value:          def.Value,
		Owner:          strings.TrimSpace(def.Owner),
		Reason:         strings.TrimSpace(def.Reason),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if normalized.Env != "" {
		env := normalized.Env
		flag.Env = &env
	}
	if normalized.OrgID != 0 {
		orgID := normalized.OrgID
		flag.OrgID = &orgID
	}
	if len(def.Payload) > 0 {
		flag.Payload = datatypes.JSONMap(def.Payload)
	}
	if def.ExpiresAt != nil {
		expiresAt := def.ExpiresAt.UTC()
		flag.ExpiresAt = &expiresAt
	}

	stored, err := s.repo.Upsert(ctx, s.db, flag)
	if err != nil {
		return nil, apperr.Storage(err)
	}

	s.audit(ctx, stored.OrgID, "feature_flag.upserted", stored.ID, map[string]any{
		"key":   stored.Key,
		"scope": string(stored.Scope),
		"value": stored.Value,
	})

	resp := toResponse(stored)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	flagID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	item, err := s.repo.FindByID(ctx, s.db, flagID)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if item == nil {
		return nil, apperr.NotFound("feature flag")
	}
	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	filter := domain.ListRequest{
		Scope:   req.Scope,
		OrgID:   req.OrgID,
		SortBy:  strings.TrimSpace(req.SortBy),
		OrderBy: strings.TrimSpace(req.OrderBy),
	}
	if strings.TrimSpace(req.Key) != "" {
		key, ok := domain.NormalizeKey(req.Key)
		if !ok {
			return nil, apperr.Validation("key", domain.ErrInvalidKey.Error(), "key must match [a-z0-9_.-]+")
		}
		filter.Key = key
	}
	if filter.Scope != "" && !filter.Scope.Valid() {
		return nil, apperr.Validation("scope", domain.ErrInvalidScope.Error(), "scope must be one of global, env, tenant")
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	flagID, err := parseID(id)
	if err != nil {
		return err
	}
	existing, err := s.repo.FindByID(ctx, s.db, flagID)
	if err != nil {
		return apperr.Storage(err)
	}
	if existing == nil {
		return apperr.NotFound("feature flag")
	}
	deleted, err := s.repo.Delete(ctx, s.db, flagID)
	if err != nil {
		return apperr.Storage(err)
	}
	if !deleted {
		return apperr.NotFound("feature flag")
	}

	s.audit(ctx, existing.OrgID, "feature_flag.deleted", existing.ID, map[string]any{
		"key":   existing.Key,
		"scope": string(existing.Scope),
	})
	return nil
}

func (s *Service) audit(ctx context.Context, orgID *snowflake.ID, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := id.String()
	if err := s.auditSvc.AuditLog(ctx, orgID, "", nil, action, "feature_flag", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, apperr.Validation("id", domain.ErrInvalidID.Error(), "id must be a positive integer")
	}
	return id, nil
}

func toResponse(f *domain.FeatureFlag) domain.Response {
	resp := domain.Response{
		ID:        f.ID.String(),
		Key:       f.Key,
		Scope:     f.Scope,
		Env:       f.Env,
		Value:     f.Value,
		ExpiresAt: f.ExpiresAt,
		Owner:     f.Owner,
		Reason:    f.Reason,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
	if f.OrgID != nil {
		orgID := f.OrgID.String()
		resp.OrgID = &orgID
	}
	if len(f.Payload) > 0 {
		resp.Payload = map[string]any(f.Payload)
	}
	return resp
}
