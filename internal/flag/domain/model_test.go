package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func row(scope Scope, value bool, env string, org snowflake.ID, expires *time.Time) FeatureFlag {
	f := FeatureFlag{Key: "checkout_v2", Scope: scope, Value: value, ExpiresAt: expires}
	if env != "" {
		f.Env = &env
	}
	if org != 0 {
		f.OrgID = &org
	}
	return f
}

func TestPickPrecedence(t *testing.T) {
	org := snowflake.ID(42)
	rows := []FeatureFlag{
		row(ScopeGlobal, false, "", 0, nil),
		row(ScopeEnv, false, "prod", 0, nil),
		row(ScopeTenant, true, "", org, nil),
	}

	got := Pick(rows, "prod", org, now)
	require.NotNil(t, got)
	assert.Equal(t, ScopeTenant, got.Scope)
	assert.True(t, got.Value)

	got = Pick(rows, "prod", snowflake.ID(7), now)
	require.NotNil(t, got)
	assert.Equal(t, ScopeEnv, got.Scope)

	got = Pick(rows, "", 0, now)
	require.NotNil(t, got)
	assert.Equal(t, ScopeGlobal, got.Scope)
}

func TestPickSkipsExpired(t *testing.T) {
	org := snowflake.ID(42)
	past := now.Add(-time.Second)
	exact := now
	rows := []FeatureFlag{
		row(ScopeTenant, true, "", org, &past),
		row(ScopeEnv, true, "prod", 0, &exact),
	}
	assert.Nil(t, Pick(rows, "prod", org, now))

	future := now.Add(time.Hour)
	rows = append(rows, row(ScopeGlobal, true, "", 0, &future))
	got := Pick(rows, "prod", org, now)
	require.NotNil(t, got)
	assert.Equal(t, ScopeGlobal, got.Scope)
}

func TestNormalizeKey(t *testing.T) {
	key, ok := NormalizeKey("  Checkout_V2.beta-1 ")
	assert.True(t, ok)
	assert.Equal(t, "checkout_v2.beta-1", key)

	for _, raw := range []string{"", "   ", "has space", "emoji✓", string(make([]byte, 129))} {
		_, ok := NormalizeKey(raw)
		assert.False(t, ok, raw)
	}
}

func TestValidateScopeRules(t *testing.T) {
	env := "prod"
	org := "123"
	cases := []struct {
		name string
		def  FlagDefinition
		ok   bool
	}{
		{"global", FlagDefinition{Key: "a", Scope: ScopeGlobal}, true},
		{"global with env", FlagDefinition{Key: "a", Scope: ScopeGlobal, Env: &env}, false},
		{"env", FlagDefinition{Key: "a", Scope: ScopeEnv, Env: &env}, true},
		{"env without env", FlagDefinition{Key: "a", Scope: ScopeEnv}, false},
		{"env with org", FlagDefinition{Key: "a", Scope: ScopeEnv, Env: &env, OrgID: &org}, false},
		{"tenant", FlagDefinition{Key: "a", Scope: ScopeTenant, OrgID: &org}, true},
		{"tenant with env", FlagDefinition{Key: "a", Scope: ScopeTenant, OrgID: &org, Env: &env}, false},
		{"tenant without org", FlagDefinition{Key: "a", Scope: ScopeTenant}, false},
		{"unknown scope", FlagDefinition{Key: "a", Scope: "region"}, false},
		{"bad key", FlagDefinition{Key: "A B", Scope: ScopeGlobal}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.def.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}
