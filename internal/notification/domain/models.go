// Package domain contains the outbound notification task outbox. Tasks are
// written here and delivered by an external worker keyed on FunctionName.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const FunctionUsageAlert = "usage-alert"

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Status string

const (
	StatusPending Status = "pending"
)

type AlertType string

const (
	AlertUsageWarning AlertType = "usage_warning"
	AlertUsageBreach  AlertType = "usage_breach"
)

type NotificationTask struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	OrgID        snowflake.ID      `gorm:"not null;index:idx_notification_tasks_org_status,priority:1"`
	FunctionName string            `gorm:"type:varchar(64);not null"`
	Payload      datatypes.JSONMap `gorm:"column:payload;not null"`
	Priority     Priority          `gorm:"type:varchar(16);not null"`
	Status       Status            `gorm:"type:varchar(16);not null;index:idx_notification_tasks_org_status,priority:2"`
	CycleRunID   string            `gorm:"type:varchar(26);index"`
	CreatedAt    time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (NotificationTask) TableName() string { return "notification_tasks" }

// UsageAlert is the payload of a usage-alert task.
type UsageAlert struct {
	Type           AlertType
	Feature        string
	CurrentUsage   decimal.Decimal
	Limit          int64
	Percentage     decimal.Decimal
	Tier           string
	ActionRequired bool
}

func (a UsageAlert) Priority() Priority {
	if a.Type == AlertUsageBreach {
		return PriorityHigh
	}
	return PriorityNormal
}

// Payload renders the alert with the field names delivery workers consume.
func (a UsageAlert) Payload() datatypes.JSONMap {
	return datatypes.JSONMap{
		"type":           string(a.Type),
		"feature":        a.Feature,
		"currentUsage":   a.CurrentUsage.InexactFloat64(),
		"limit":          a.Limit,
		"percentage":     a.Percentage.InexactFloat64(),
		"tier":           a.Tier,
		"actionRequired": a.ActionRequired,
	}
}
