package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/usage/domain"
	"github.com/smallbiznis/tollgate/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, event *domain.UsageEvent) (bool, error) {
	stmt := conn.WithContext(ctx)
	if event.IdempotencyKey != nil {
		stmt = stmt.Clauses(idempotencyConflictClause(conn))
	}
	result := stmt.Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// idempotencyConflictClause matches the partial unique index postgres uses
// for (org_id, idempotency_key).
func idempotencyConflictClause(conn *gorm.DB) clause.OnConflict {
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}
	if db.IsPostgres(conn) {
		conflict.TargetWhere = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "idempotency_key IS NOT NULL"},
		}}
	}
	return conflict
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, key string) (*domain.UsageEvent, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var events []domain.UsageEvent
	err := conn.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *repo) SumByFeature(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]domain.FeatureTotal, error) {
	var totals []domain.FeatureTotal
	err := conn.WithContext(ctx).Raw(
		`SELECT feature_key, COALESCE(SUM(quantity), 0) AS total
		 FROM usage_events
		 WHERE org_id = ? AND occurred_at >= ? AND occurred_at < ?
		 GROUP BY feature_key
		 ORDER BY feature_key`,
		orgID, from.UTC(), to.UTC(),
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.UsageEvent, error) {
	var events []domain.UsageEvent
	stmt := conn.WithContext(ctx).Model(&domain.UsageEvent{}).Where("org_id = ?", filter.OrgID)

	if filter.FeatureKey != "" {
		stmt = stmt.Where("feature_key = ?", filter.FeatureKey)
	}
	if filter.From != nil {
		stmt = stmt.Where("occurred_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("occurred_at < ?", filter.To.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("occurred_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
