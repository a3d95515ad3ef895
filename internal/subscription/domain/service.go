package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (*Response, error)
	Get(ctx context.Context, orgID string) (*Response, error)
	FindByOrg(ctx context.Context, orgID snowflake.ID) (*Subscription, error)
	ListBillable(ctx context.Context) ([]Subscription, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)
	ListByStatus(ctx context.Context, db *gorm.DB, statuses []Status) ([]Subscription, error)
}

// UpsertRequest is pushed by the billing webhook collaborator.
type UpsertRequest struct {
	OrgID              string     `json:"org_id"`
	PlanID             string     `json:"plan_id"`
	Status             Status     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
}

type Response struct {
	OrgID              string     `json:"org_id"`
	PlanID             string     `json:"plan_id"`
	Status             Status     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

var (
	ErrInvalidPlan   = errors.New("invalid_plan")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrInvalidPeriod = errors.New("invalid_period")
)
