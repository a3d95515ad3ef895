package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Checker answers whether an organization may use a feature. It never
// returns an error; any failure denies.
type Checker interface {
	IsEntitled(ctx context.Context, orgID snowflake.ID, featureKey string, now time.Time) bool
	Check(ctx context.Context, orgID snowflake.ID, featureKey string, now time.Time) Decision
}

type Service interface {
	Checker
	UpsertOverride(ctx context.Context, req UpsertOverrideRequest) (*OverrideResponse, error)
	DeleteOverride(ctx context.Context, orgID, featureKey string) error
	ListOverrides(ctx context.Context, orgID string) ([]OverrideResponse, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, o *Override) (*Override, error)
	Find(ctx context.Context, db *gorm.DB, orgID snowflake.ID, featureKey string) (*Override, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Override, error)
	Delete(ctx context.Context, db *gorm.DB, orgID snowflake.ID, featureKey string) (bool, error)
}

type UpsertOverrideRequest struct {
	OrgID      string     `json:"org_id"`
	FeatureKey string     `json:"feature_key"`
	Enabled    bool       `json:"enabled"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Reason     string     `json:"reason"`
}

type OverrideResponse struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	FeatureKey string     `json:"feature_key"`
	Enabled    bool       `json:"enabled"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Reason     string     `json:"reason"`
	Source     Source     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

var ErrInvalidFeatureKey = errors.New("invalid_feature_key")
