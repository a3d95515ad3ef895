package domain

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/smallbiznis/tollgate/internal/orgcontext"
)

const MaxKeyLength = 128

var keyPattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// NormalizeKey trims and lower-cases a flag or feature key and checks its charset.
func NormalizeKey(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" || len(key) > MaxKeyLength || !keyPattern.MatchString(key) {
		return "", false
	}
	return key, true
}

// Normalized is a validated FlagDefinition.
type Normalized struct {
	Key   string
	Scope Scope
	Env   string
	OrgID snowflake.ID
}

// Validate checks scope field rules. Mismatched scope fields are rejected,
// never corrected.
func (d FlagDefinition) Validate() (Normalized, error) {
	key, ok := NormalizeKey(d.Key)
	if !ok {
		return Normalized{}, apperr.Validation("key", ErrInvalidKey.Error(), "key must match [a-z0-9_.-]+ and be at most 128 characters")
	}
	if !d.Scope.Valid() {
		return Normalized{}, apperr.Validation("scope", ErrInvalidScope.Error(), "scope must be one of global, env, tenant")
	}

	env := trimmed(d.Env)
	org := trimmed(d.OrgID)

	out := Normalized{Key: key, Scope: d.Scope}
	switch d.Scope {
	case ScopeGlobal:
		if env != "" || org != "" {
			return Normalized{}, apperr.Validation("scope", ErrInvalidScope.Error(), "global scope must not set env or org_id")
		}
	case ScopeEnv:
		if env == "" {
			return Normalized{}, apperr.Validation("env", ErrInvalidScope.Error(), "env scope requires env")
		}
		if org != "" {
			return Normalized{}, apperr.Validation("org_id", ErrInvalidScope.Error(), "env scope must not set org_id")
		}
		out.Env = env
	case ScopeTenant:
		if org == "" {
			return Normalized{}, apperr.Validation("org_id", ErrInvalidScope.Error(), "tenant scope requires org_id")
		}
		if env != "" {
			return Normalized{}, apperr.Validation("env", ErrInvalidScope.Error(), "tenant scope must not set env")
		}
		orgID, err := orgcontext.ParseOrgID(org)
		if err != nil {
			return Normalized{}, apperr.Validation("org_id", orgcontext.ErrInvalidOrganization.Error(), "org_id must be a positive integer id")
		}
		out.OrgID = orgID
	}
	return out, nil
}

func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
