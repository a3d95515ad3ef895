package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Source string

const (
	SourceOverride Source = "override"
	SourcePlan     Source = "plan"
	SourceNone     Source = "none"
)

const (
	ReasonSubscriptionNotFound = "subscription_not_found"
	ReasonSubscriptionInactive = "subscription_inactive"
	ReasonOverrideEnabled      = "override_enabled"
	ReasonOverrideDisabled     = "override_disabled"
	ReasonPlanIncludes         = "plan_includes_feature"
	ReasonPlanExcludes         = "plan_excludes_feature"
	ReasonUnknownPlan          = "unknown_plan"
	ReasonLookupFailed         = "lookup_failed"
	ReasonInvalidFeature       = "invalid_feature"
)

// Override is a per-organization decision that supersedes the plan while it
// has not expired.
type Override struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:ux_entitlements_org_feature,priority:1"`
	FeatureKey string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_entitlements_org_feature,priority:2"`
	Enabled    bool         `gorm:"not null"`
	ExpiresAt  *time.Time
	Reason     string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Override) TableName() string { return "entitlements" }

func (o Override) ActiveAt(now time.Time) bool {
	return o.ExpiresAt == nil || o.ExpiresAt.After(now)
}

// Decision explains an entitlement check.
type Decision struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
	Source  Source `json:"source"`
	Reason  string `json:"reason"`
	PlanID  string `json:"plan_id,omitempty"`
}
