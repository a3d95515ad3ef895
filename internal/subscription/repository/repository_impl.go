package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id", "status", "current_period_start", "current_period_end", "updated_at",
		}),
	}).Create(sub).Error
}

func (r *repo) FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT org_id, plan_id, status, current_period_start, current_period_end, created_at, updated_at
		 FROM subscriptions WHERE org_id = ?`,
		orgID,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.OrgID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, statuses []domain.Status) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("status IN ?", statuses).
		Order("org_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
