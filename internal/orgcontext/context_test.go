package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestOrgIDRoundTrip(t *testing.T) {
	_, ok := OrgIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithOrgID(context.Background(), snowflake.ID(42))
	id, ok := OrgIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(42), id)

	_, ok = OrgIDFromContext(WithOrgID(context.Background(), 0))
	assert.False(t, ok)
}

func TestEnvFromContext(t *testing.T) {
	assert.Equal(t, "", EnvFromContext(context.Background()))
	assert.Equal(t, "staging", EnvFromContext(WithEnv(context.Background(), " staging ")))
}

func TestParseOrgID(t *testing.T) {
	id, err := ParseOrgID("1234")
	assert.NoError(t, err)
	assert.Equal(t, snowflake.ID(1234), id)

	for _, raw := range []string{"", "abc", "0", "-5"} {
		_, err := ParseOrgID(raw)
		assert.ErrorIs(t, err, ErrInvalidOrganization, raw)
	}
}
