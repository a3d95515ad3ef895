package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// GrantsAccess reports whether the status entitles the organization to its plan.
func (s Status) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription mirrors the billing provider's view of an organization's plan.
type Subscription struct {
	OrgID              snowflake.ID `gorm:"column:org_id;primaryKey;autoIncrement:false"`
	PlanID             string       `gorm:"type:varchar(64);not null"`
	Status             Status       `gorm:"type:varchar(16);not null;index"`
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }
