package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/internal/notification/domain"
	"github.com/smallbiznis/tollgate/internal/notification/repository"
	"github.com/smallbiznis/tollgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupNotificationService(t *testing.T) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{
		DB:    dbtest.Open(t, &domain.NotificationTask{}),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestEnqueueUsageAlerts(t *testing.T) {
	svc := setupNotificationService(t)
	ctx := context.Background()

	n, err := svc.EnqueueUsageAlerts(ctx, 7, "01J0RUN", []domain.UsageAlert{
		{
			Type:         domain.AlertUsageWarning,
			Feature:      "api_calls",
			CurrentUsage: decimal.NewFromInt(42500),
			Limit:        50000,
			Percentage:   decimal.NewFromInt(85),
			Tier:         "pro",
		},
		{
			Type:           domain.AlertUsageBreach,
			Feature:        "seats",
			CurrentUsage:   decimal.NewFromInt(30),
			Limit:          25,
			Percentage:     decimal.NewFromInt(120),
			Tier:           "pro",
			ActionRequired: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	org := snowflake.ID(7)
	resp, err := svc.List(ctx, domain.ListRequest{OrgID: &org, Status: domain.StatusPending})
	require.NoError(t, err)
	require.Len(t, resp.Tasks, 2)

	byFeature := map[string]domain.Response{}
	for _, task := range resp.Tasks {
		assert.Equal(t, domain.FunctionUsageAlert, task.FunctionName)
		assert.Equal(t, "01J0RUN", task.CycleRunID)
		byFeature[task.Payload["feature"].(string)] = task
	}

	warning := byFeature["api_calls"]
	assert.Equal(t, domain.PriorityNormal, warning.Priority)
	assert.Equal(t, "usage_warning", warning.Payload["type"])
	assert.Equal(t, json.Number("85"), warning.Payload["percentage"])
	assert.Equal(t, json.Number("42500"), warning.Payload["currentUsage"])
	assert.Equal(t, json.Number("50000"), warning.Payload["limit"])
	assert.Equal(t, false, warning.Payload["actionRequired"])

	breach := byFeature["seats"]
	assert.Equal(t, domain.PriorityHigh, breach.Priority)
	assert.Equal(t, true, breach.Payload["actionRequired"])
	assert.Equal(t, json.Number("120"), breach.Payload["percentage"])
}

func TestEnqueueUsageAlertsValidation(t *testing.T) {
	svc := setupNotificationService(t)
	ctx := context.Background()

	n, err := svc.EnqueueUsageAlerts(ctx, 7, "run", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.EnqueueUsageAlerts(ctx, 0, "run", []domain.UsageAlert{{Type: domain.AlertUsageBreach, Feature: "x"}})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.EnqueueUsageAlerts(ctx, 7, "run", []domain.UsageAlert{{Type: "usage_info", Feature: "x"}})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.List(ctx, domain.ListRequest{Status: "sent"})
	assert.True(t, apperr.IsValidation(err))
}
