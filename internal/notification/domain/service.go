package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	EnqueueUsageAlerts(ctx context.Context, orgID snowflake.ID, cycleRunID string, alerts []UsageAlert) (int, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, tasks []NotificationTask) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]NotificationTask, error)
}

type ListRequest struct {
	pagination.Pagination
	OrgID      *snowflake.ID
	Status     Status
	CycleRunID string
}

type ListResponse struct {
	pagination.PageInfo
	Tasks []Response `json:"tasks"`
}

type ListFilter struct {
	OrgID      *snowflake.ID
	Status     Status
	CycleRunID string
	Cursor     *pagination.Cursor
	Limit      int
}

type Response struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"org_id"`
	FunctionName string         `json:"function_name"`
	Payload      map[string]any `json:"payload"`
	Priority     Priority       `json:"priority"`
	Status       Status         `json:"status"`
	CycleRunID   string         `json:"cycle_run_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAlert        = errors.New("invalid_alert")
	ErrInvalidStatus       = errors.New("invalid_status")
)
