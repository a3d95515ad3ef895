package option

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type SortBy struct {
	Column string
	Desc   bool
}

// WithQuerySortBy accepts a caller supplied column only when it is allow-listed.
// Unknown columns fall back to created_at descending.
func WithQuerySortBy(sortBy, orderBy string, allowed map[string]bool) SortBy {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if !allowed[column] {
		return SortBy{Column: "created_at", Desc: true}
	}
	return SortBy{Column: column, Desc: !strings.EqualFold(strings.TrimSpace(orderBy), "asc")}
}

func WithSortBy(s SortBy) QueryOption {
	return s
}

func (s SortBy) Apply(db *gorm.DB) *gorm.DB {
	return db.Order(clause.OrderByColumn{Column: clause.Column{Name: s.Column}, Desc: s.Desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: s.Desc})
}
