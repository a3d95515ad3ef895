package pagination

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	token := EncodeCursor(Cursor{ID: snowflake.ID(99), CreatedAt: at})

	c, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(99), c.ID)
	assert.True(t, at.Equal(c.CreatedAt))

	c, err = DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestPage(t *testing.T) {
	items := []int{5, 4, 3}
	cursorOf := func(v int) Cursor { return Cursor{ID: snowflake.ID(v), CreatedAt: time.Unix(int64(v), 0)} }

	page, info := Page(items, 2, cursorOf)
	assert.Equal(t, []int{5, 4}, page)
	assert.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(4), next.ID)

	page, info = Page(items, 3, cursorOf)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 10, Pagination{PageSize: 10}.Limit())
}
