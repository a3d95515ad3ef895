package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Resolve(ctx context.Context, key string, rc ResolveContext, def bool) (ResolvedFlag, error)
	Enabled(ctx context.Context, key, env string, orgID snowflake.ID) (bool, error)
	Upsert(ctx context.Context, def FlagDefinition) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Delete(ctx context.Context, id string) error
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, flag *FeatureFlag) (*FeatureFlag, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FeatureFlag, error)
	FindCandidates(ctx context.Context, db *gorm.DB, key, env string, orgID snowflake.ID) ([]FeatureFlag, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]FeatureFlag, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
}

// ResolveContext carries the request attributes used for scope matching.
// A zero OrgID skips the tenant lookup and an empty Env skips the env lookup.
type ResolveContext struct {
	Env           string
	OrgID         snowflake.ID
	RequireTenant bool
}

type ResolvedFlag struct {
	Key     string         `json:"key"`
	Value   bool           `json:"value"`
	Payload map[string]any `json:"payload,omitempty"`
	Scope   Scope          `json:"scope,omitempty"`
	Default bool           `json:"default"`
}

// FlagDefinition is the admin write request. The whole row is replaced.
type FlagDefinition struct {
	Key       string         `json:"key"`
	Scope     Scope          `json:"scope"`
	Env       *string        `json:"env,omitempty"`
	OrgID     *string        `json:"org_id,omitempty"`
	Value     bool           `json:"value"`
	Payload   map[string]any `json:"payload,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Owner     string         `json:"owner"`
	Reason    string         `json:"reason"`
}

type ListRequest struct {
	Key     string
	Scope   Scope
	OrgID   *snowflake.ID
	SortBy  string
	OrderBy string
}

type Response struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	Scope     Scope          `json:"scope"`
	Env       *string        `json:"env,omitempty"`
	OrgID     *string        `json:"org_id,omitempty"`
	Value     bool           `json:"value"`
	Payload   map[string]any `json:"payload,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Owner     string         `json:"owner"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

var (
	ErrInvalidKey   = errors.New("invalid_flag_key")
	ErrInvalidScope = errors.New("invalid_scope")
	ErrInvalidID    = errors.New("invalid_id")
)
