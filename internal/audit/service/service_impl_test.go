package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tollgate/internal/audit/domain"
	"github.com/smallbiznis/tollgate/internal/audit/repository"
	"github.com/smallbiznis/tollgate/internal/clock"
	"github.com/smallbiznis/tollgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    dbtest.Open(t, &auditdomain.AuditLog{}),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  repository.Provide(),
	})
	return svc, fc
}

func TestAuditLogUsesContextActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := auditdomain.WithActor(context.Background(), auditdomain.ActorTypeAdmin, "ops@example.com")
	org := snowflake.ID(10)
	target := "flag-1"

	require.NoError(t, svc.AuditLog(ctx, &org, "", nil, "feature_flag.upserted", "feature_flag", &target, map[string]any{"value": true}))

	resp, err := svc.List(context.Background(), auditdomain.ListRequest{OrgID: &org})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	entry := resp.AuditLogs[0]
	assert.Equal(t, auditdomain.ActorTypeAdmin, entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "ops@example.com", *entry.ActorID)
	assert.Equal(t, true, entry.Metadata["value"])
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), nil, "", nil, " ", "", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, fc := newTestService(t)
	for i := 0; i < 3; i++ {
		fc.Advance(time.Minute)
		require.NoError(t, svc.AuditLog(context.Background(), nil, "", nil, "usage_cycle.completed", "usage_cycle", nil, nil))
	}

	first, err := svc.List(context.Background(), auditdomain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 3)
	assert.False(t, first.HasMore)
	assert.Equal(t, auditdomain.ActorTypeSystem, first.AuditLogs[0].ActorType)

	req := auditdomain.ListRequest{}
	req.PageSize = 2
	page, err := svc.List(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, page.AuditLogs, 2)
	assert.True(t, page.HasMore)

	req.PageToken = page.NextPageToken
	rest, err := svc.List(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, rest.AuditLogs, 1)
	assert.True(t, rest.AuditLogs[0].CreatedAt.Before(page.AuditLogs[1].CreatedAt))
}
