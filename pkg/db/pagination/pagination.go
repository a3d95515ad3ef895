package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Limit clamps the requested page size.
func (p Pagination) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return p.PageSize
}

// Cursor is the keyset position of the last row on a page, ordered by
// (created_at desc, id desc).
type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type wireCursor struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(wireCursor{
		ID:        c.ID.String(),
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a page token. An empty token yields a nil cursor.
func DecodeCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidPageToken
	}
	var raw wireCursor
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(raw.ID)
	if err != nil || id == 0 {
		return nil, ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
	if err != nil {
		return nil, ErrInvalidPageToken
	}
	return &Cursor{ID: id, CreatedAt: createdAt}, nil
}

// Page trims a result fetched with limit+1 rows and builds its PageInfo.
func Page[T any](items []T, limit int, cursorOf func(T) Cursor) ([]T, PageInfo) {
	if len(items) <= limit {
		return items, PageInfo{}
	}
	items = items[:limit]
	return items, PageInfo{
		HasMore:       true,
		NextPageToken: EncodeCursor(cursorOf(items[len(items)-1])),
	}
}
