package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeEnv    Scope = "env"
	ScopeTenant Scope = "tenant"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeEnv, ScopeTenant:
		return true
	}
	return false
}

// FeatureFlag is one boolean assertion for a (key, scope, env, org) tuple.
// ScopeQualifier folds env and org into a non-null column so the natural key
// can be enforced by a unique index.
type FeatureFlag struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	Key            string            `gorm:"column:flag_key;type:varchar(128);not null;uniqueIndex:ux_feature_flags_natural_key,priority:1"`
	Scope          Scope             `gorm:"type:varchar(16);not null;uniqueIndex:ux_feature_flags_natural_key,priority:2"`
	ScopeQualifier string            `gorm:"column:scope_qualifier;type:varchar(128);not null;uniqueIndex:ux_feature_flags_natural_key,priority:3"`
	Env            *string           `gorm:"type:varchar(64)"`
	OrgID          *snowflake.ID     `gorm:"column:org_id;index"`
	Value          bool              `gorm:"not null"`
	Payload        datatypes.JSONMap `gorm:"column:payload"`
	ExpiresAt      *time.Time        `gorm:"column:expires_at"`
	Owner          string            `gorm:"type:varchar(128);not null"`
	Reason         string            `gorm:"type:text;not null"`
	CreatedAt      time.Time         `gorm:"not null"`
	UpdatedAt      time.Time         `gorm:"not null"`
}

func (FeatureFlag) TableName() string { return "feature_flags" }

// ActiveAt reports whether the flag still asserts a value at now.
func (f FeatureFlag) ActiveAt(now time.Time) bool {
	return f.ExpiresAt == nil || f.ExpiresAt.After(now)
}

// Qualifier returns the scope_qualifier value for a scope.
func Qualifier(scope Scope, env string, orgID snowflake.ID) string {
	switch scope {
	case ScopeEnv:
		return env
	case ScopeTenant:
		return orgID.String()
	}
	return ""
}

// Pick applies tenant > env > global precedence over candidate rows, treating
// expired rows as absent. It returns nil when nothing applies.
func Pick(rows []FeatureFlag, env string, orgID snowflake.ID, now time.Time) *FeatureFlag {
	var tenant, envRow, global *FeatureFlag
	for i := range rows {
		row := &rows[i]
		if !row.ActiveAt(now) {
			continue
		}
		switch row.Scope {
		case ScopeTenant:
			if orgID != 0 && row.OrgID != nil && *row.OrgID == orgID {
				tenant = row
			}
		case ScopeEnv:
			if env != "" && row.Env != nil && *row.Env == env {
				envRow = row
			}
		case ScopeGlobal:
			global = row
		}
	}
	switch {
	case tenant != nil:
		return tenant
	case envRow != nil:
		return envRow
	}
	return global
}
