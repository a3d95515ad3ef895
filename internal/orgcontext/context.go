package orgcontext

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ErrInvalidOrganization is returned when an organization id cannot be parsed.
var ErrInvalidOrganization = errors.New("invalid_organization")

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

// EnvContextKey is the request context key for the deployment environment.
type EnvContextKey struct{}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(OrgContextKey{}).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	}
	return 0, false
}

func WithEnv(ctx context.Context, env string) context.Context {
	return context.WithValue(ctx, EnvContextKey{}, strings.TrimSpace(env))
}

func EnvFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	env, _ := ctx.Value(EnvContextKey{}).(string)
	return env
}

// ParseOrgID parses a decimal organization id. Zero and negative ids are rejected.
func ParseOrgID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOrganization
	}
	return id, nil
}
