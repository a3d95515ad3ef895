// Package domain contains persistence models for the usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsageEvent is one append-only unit of metered activity. Rows are never
// updated or deleted.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	OrgID          snowflake.ID      `gorm:"not null;index:idx_usage_events_org_occurred,priority:1;uniqueIndex:ux_usage_events_org_idempotency,priority:1"`
	FeatureKey     string            `gorm:"type:varchar(128);not null"`
	Quantity       decimal.Decimal   `gorm:"type:numeric(20,6);not null"`
	OccurredAt     time.Time         `gorm:"not null;index:idx_usage_events_org_occurred,priority:2"`
	IdempotencyKey *string           `gorm:"type:varchar(255);uniqueIndex:ux_usage_events_org_idempotency,priority:2"`
	Metadata       datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt      time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
