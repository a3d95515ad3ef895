// Package domain describes one usage aggregation cycle: per organization
// usage is summed over a window and compared against the plan's finite
// limits to produce warning and breach alerts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	notificationdomain "github.com/smallbiznis/tollgate/internal/notification/domain"
)

// LockKey names the job lock held for the duration of a cycle.
const LockKey = "usage-cycle"

var (
	WarningThreshold = decimal.NewFromInt(80)
	BreachThreshold  = decimal.NewFromInt(100)
)

var (
	ErrCycleInProgress = errors.New("usage_cycle_in_progress")
	ErrInvalidWindow   = errors.New("invalid_period_window")
	ErrUnknownPlan     = errors.New("unknown_plan")
)

type Service interface {
	RunCycle(ctx context.Context, periodStart, now time.Time) (*CycleResult, error)
}

// CycleAlert is one (organization, feature) pair that crossed a threshold.
type CycleAlert struct {
	OrgID          string                       `json:"org_id"`
	Type           notificationdomain.AlertType `json:"type"`
	Feature        string                       `json:"feature"`
	CurrentUsage   decimal.Decimal              `json:"current_usage"`
	Limit          int64                        `json:"limit"`
	Percentage     decimal.Decimal              `json:"percentage"`
	Tier           string                       `json:"tier"`
	ActionRequired bool                         `json:"action_required"`
}

func NewCycleAlert(orgID string, alert notificationdomain.UsageAlert) CycleAlert {
	return CycleAlert{
		OrgID:          orgID,
		Type:           alert.Type,
		Feature:        alert.Feature,
		CurrentUsage:   alert.CurrentUsage,
		Limit:          alert.Limit,
		Percentage:     alert.Percentage,
		Tier:           alert.Tier,
		ActionRequired: alert.ActionRequired,
	}
}

// CycleResult lists every breach and warning of the run, ordered by
// organization then feature. BreachCount and WarningCount mirror the list
// lengths for the audit summary.
type CycleResult struct {
	RunID                string       `json:"run_id"`
	PeriodStart          time.Time    `json:"period_start"`
	PeriodEnd            time.Time    `json:"period_end"`
	Breaches             []CycleAlert `json:"breaches"`
	Warnings             []CycleAlert `json:"warnings"`
	OrganizationsChecked int          `json:"organizations_checked"`
	BreachCount          int          `json:"breaches_found"`
	WarningCount         int          `json:"warnings_found"`
	NotificationsCreated int          `json:"notifications_created"`
	Failures             int          `json:"failures"`
}

// Percentage returns usage as a percentage of limit rounded to two places.
func Percentage(usage decimal.Decimal, limit int64) decimal.Decimal {
	return usage.Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(limit)).Round(2)
}

// Classify compares usage against a positive limit. Above 100 percent is a
// breach, above 80 up to and including 100 is a warning, anything else
// yields no alert. The thresholds are compared without division so the
// rounded percentage never decides the band.
func Classify(feature, tier string, usage decimal.Decimal, limit int64) (notificationdomain.UsageAlert, bool) {
	if limit <= 0 {
		return notificationdomain.UsageAlert{}, false
	}
	scaled := usage.Mul(decimal.NewFromInt(100))
	limitDec := decimal.NewFromInt(limit)
	alert := notificationdomain.UsageAlert{
		Feature:      feature,
		CurrentUsage: usage,
		Limit:        limit,
		Percentage:   Percentage(usage, limit),
		Tier:         tier,
	}
	switch {
	case scaled.GreaterThan(limitDec.Mul(BreachThreshold)):
		alert.Type = notificationdomain.AlertUsageBreach
		alert.ActionRequired = true
	case scaled.GreaterThan(limitDec.Mul(WarningThreshold)):
		alert.Type = notificationdomain.AlertUsageWarning
	default:
		return notificationdomain.UsageAlert{}, false
	}
	return alert, true
}
