package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/flag/domain"
	"github.com/smallbiznis/tollgate/internal/flag/repository"
	"github.com/smallbiznis/tollgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   domain.Service
	db    *gorm.DB
	clock *clock.FakeClock
}

func setupFlagService(t *testing.T, repo domain.Repository) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	db := dbtest.Open(t, &domain.FeatureFlag{})
	fc := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	if repo == nil {
		repo = repository.Provide()
	}
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  repo,
	})
	return fixture{svc: svc, db: db, clock: fc}
}

func strPtr(v string) *string { return &v }

func TestResolveTenantBeatsEnv(t *testing.T) {
	f := setupFlagService(t, nil)
	ctx := context.Background()

	_, err := f.svc.Upsert(ctx, domain.FlagDefinition{Key: "new_checkout", Scope: domain.ScopeEnv, Env: strPtr("prod"), Value: false})
	require.NoError(t, err)
	_, err = f.svc.Upsert(ctx, domain.FlagDefinition{
		Key:     "new_checkout",
		Scope:   domain.ScopeTenant,
		OrgID:   strPtr("42"),
		Value:   true,
		Payload: map[string]any{"variant": "b"},
	})
	require.NoError(t, err)

	got, err := f.svc.Resolve(ctx, "new_checkout", domain.ResolveContext{Env: "prod", OrgID: 42}, false)
	require.NoError(t, err)
	assert.True(t, got.Value)
	assert.Equal(t, domain.ScopeTenant, got.Scope)
	assert.Equal(t, "b", got.Payload["variant"])
	assert.False(t, got.Default)

	got, err = f.svc.Resolve(ctx, "new_checkout", domain.ResolveContext{Env: "prod", OrgID: 7}, true)
	require.NoError(t, err)
	assert.False(t, got.Value)
	assert.Equal(t, domain.ScopeEnv, got.Scope)
}

func TestResolveExpiredEqualsAbsent(t *testing.T) {
	f := setupFlagService(t, nil)
	ctx := context.Background()

	expires := f.clock.Now().Add(time.Hour)
	_, err := f.svc.Upsert(ctx, domain.FlagDefinition{
		Key:       "beta_banner",
		Scope:     domain.ScopeTenant,
		OrgID:     strPtr("42"),
		Value:     true,
		ExpiresAt: &expires,
	})
	require.NoError(t, err)

	got, err := f.svc.Resolve(ctx, "beta_banner", domain.ResolveContext{OrgID: 42}, false)
	require.NoError(t, err)
	assert.True(t, got.Value)

	f.clock.Advance(time.Hour)
	got, err = f.svc.Resolve(ctx, "beta_banner", domain.ResolveContext{OrgID: 42}, false)
	require.NoError(t, err)
	assert.False(t, got.Value)
	assert.True(t, got.Default)
	assert.Equal(t, domain.Scope(""), got.Scope)
}

func TestResolveGlobalOnlyFalse(t *testing.T) {
	f := setupFlagService(t, nil)
	ctx := context.Background()

	_, err := f.svc.Upsert(ctx, domain.FlagDefinition{Key: "maintenance", Scope: domain.ScopeGlobal, Value: false})
	require.NoError(t, err)

	got, err := f.svc.Resolve(ctx, "maintenance", domain.ResolveContext{Env: "prod", OrgID: 42}, true)
	require.NoError(t, err)
	assert.False(t, got.Value)
	assert.Equal(t, domain.ScopeGlobal, got.Scope)
}

func TestResolveConfigurationErrors(t *testing.T) {
	f := setupFlagService(t, nil)
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, "", domain.ResolveContext{}, false)
	assert.True(t, apperr.IsConfiguration(err))

	_, err = f.svc.Resolve(ctx, "tenant_only", domain.ResolveContext{RequireTenant: true}, false)
	assert.True(t, apperr.IsConfiguration(err))

	enabled, err := f.svc.Enabled(ctx, " ", "prod", 1)
	assert.False(t, enabled)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestUpsertIsIdempotentByNaturalKey(t *testing.T) {
	f := setupFlagService(t, nil)
	ctx := context.Background()

	def := domain.FlagDefinition{Key: "Dark_Mode", Scope: domain.ScopeEnv, Env: strPtr("staging"), Value: true, Owner: "web"}
	first, err := f.svc.Upsert(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, "dark_mode", first.Key)

	f.clock.Advance(time.Minute)
	def.Value = false
	def.Reason = "rollback"
	second, err := f.svc.Upsert(ctx, def)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Value)
	assert.Equal(t, "rollback", second.Reason)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	var count int64
	require.NoError(t, f.db.Model(&domain.FeatureFlag{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertRejectsScopeMismatch(t *testing.T) {
	f := setupFlagService(t, nil)
	_, err := f.svc.Upsert(context.Background(), domain.FlagDefinition{Key: "x", Scope: domain.ScopeTenant, Env: strPtr("prod")})
	assert.True(t, apperr.IsValidation(err))
}

func TestDeleteAndGet(t *testing.T) {
	f := setupFlagService(t, nil)
	ctx := context.Background()

	created, err := f.svc.Upsert(ctx, domain.FlagDefinition{Key: "exports", Scope: domain.ScopeGlobal, Value: true})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "exports", got.Key)

	list, err := f.svc.List(ctx, domain.ListRequest{Scope: domain.ScopeGlobal})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	assert.True(t, apperr.IsNotFound(f.svc.Delete(ctx, created.ID)))

	_, err = f.svc.Get(ctx, created.ID)
	assert.True(t, apperr.IsNotFound(err))

	assert.True(t, apperr.IsValidation(f.svc.Delete(ctx, "abc")))
}

type failingRepo struct {
	domain.Repository
}

func (failingRepo) FindCandidates(context.Context, *gorm.DB, string, string, snowflake.ID) ([]domain.FeatureFlag, error) {
	return nil, errors.New("connection refused")
}

func TestStorageFailure(t *testing.T) {
	f := setupFlagService(t, failingRepo{Repository: repository.Provide()})
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, "checkout", domain.ResolveContext{OrgID: 1}, true)
	assert.True(t, apperr.IsTransient(err))

	enabled, err := f.svc.Enabled(ctx, "checkout", "prod", 1)
	assert.NoError(t, err)
	assert.False(t, enabled)
}
