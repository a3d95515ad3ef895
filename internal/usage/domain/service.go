package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tollgate/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Record(ctx context.Context, req RecordRequest) (*RecordResponse, error)
	SumByFeature(ctx context.Context, orgID snowflake.ID, from, to time.Time) (map[string]decimal.Decimal, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	// Insert appends the event. With an idempotency key it reports false when
	// the (org, key) pair already exists and nothing was written.
	Insert(ctx context.Context, db *gorm.DB, event *UsageEvent) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*UsageEvent, error)
	SumByFeature(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]FeatureTotal, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]UsageEvent, error)
}

type RecordRequest struct {
	OrgID          snowflake.ID    `json:"-"`
	FeatureKey     string          `json:"feature_key"`
	Quantity       decimal.Decimal `json:"quantity"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       map[string]any  `json:"metadata"`
}

type RecordResponse struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"org_id"`
	FeatureKey     string          `json:"feature_key"`
	Quantity       decimal.Decimal `json:"quantity"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Duplicate      bool            `json:"duplicate"`
}

// FeatureTotal is one row of a per-feature period sum.
type FeatureTotal struct {
	FeatureKey string          `gorm:"column:feature_key"`
	Total      decimal.Decimal `gorm:"column:total"`
}

type ListRequest struct {
	pagination.Pagination
	OrgID      snowflake.ID
	FeatureKey string
	From       *time.Time
	To         *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Events []RecordResponse `json:"events"`
}

type ListFilter struct {
	OrgID      snowflake.ID
	FeatureKey string
	From       *time.Time
	To         *time.Time
	Cursor     *pagination.Cursor
	Limit      int
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidFeatureKey   = errors.New("invalid_feature_key")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidIdempotency  = errors.New("invalid_idempotency_key")
)
