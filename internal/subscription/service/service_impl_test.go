package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/config"
	planservice "github.com/smallbiznis/tollgate/internal/plan/service"
	"github.com/smallbiznis/tollgate/internal/subscription/domain"
	"github.com/smallbiznis/tollgate/internal/subscription/repository"
	"github.com/smallbiznis/tollgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupSubscriptionService(t *testing.T) domain.Service {
	t.Helper()
	return New(Params{
		DB:      dbtest.Open(t, &domain.Subscription{}),
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:    repository.Provide(),
		Catalog: planservice.New(config.NewStaticPlanCatalogHolder(config.DefaultPlans())),
	})
}

func TestUpsertReplacesByOrg(t *testing.T) {
	svc := setupSubscriptionService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertRequest{OrgID: "42", PlanID: "pro", Status: domain.StatusTrialing})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, domain.UpsertRequest{OrgID: "42", PlanID: "enterprise", Status: "ACTIVE"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "enterprise", got.PlanID)
	assert.Equal(t, domain.StatusActive, got.Status)
}

func TestUpsertValidation(t *testing.T) {
	svc := setupSubscriptionService(t)
	ctx := context.Background()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	cases := []domain.UpsertRequest{
		{OrgID: "", PlanID: "pro", Status: domain.StatusActive},
		{OrgID: "1", PlanID: " ", Status: domain.StatusActive},
		{OrgID: "1", PlanID: "pro", Status: "paused"},
		{OrgID: "1", PlanID: "pro", Status: domain.StatusActive, CurrentPeriodStart: &start, CurrentPeriodEnd: &end},
	}
	for _, req := range cases {
		_, err := svc.Upsert(ctx, req)
		assert.True(t, apperr.IsValidation(err), "%+v", req)
	}
}

func TestFindByOrgMissing(t *testing.T) {
	svc := setupSubscriptionService(t)
	_, err := svc.FindByOrg(context.Background(), snowflake.ID(99))
	assert.True(t, apperr.IsNotFound(err))
}

func TestListBillable(t *testing.T) {
	svc := setupSubscriptionService(t)
	ctx := context.Background()

	for org, status := range map[string]domain.Status{
		"1": domain.StatusActive,
		"2": domain.StatusTrialing,
		"3": domain.StatusPastDue,
		"4": domain.StatusCanceled,
	} {
		_, err := svc.Upsert(ctx, domain.UpsertRequest{OrgID: org, PlanID: "pro", Status: status})
		require.NoError(t, err)
	}

	items, err := svc.ListBillable(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, snowflake.ID(1), items[0].OrgID)
	assert.Equal(t, snowflake.ID(2), items[1].OrgID)
}
