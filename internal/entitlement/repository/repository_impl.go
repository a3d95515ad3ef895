package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const overrideColumns = `id, org_id, feature_key, enabled, expires_at, reason, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, o *domain.Override) (*domain.Override, error) {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "expires_at", "reason", "updated_at"}),
	}).Create(o).Error
	if err != nil {
		return nil, err
	}
	stored, err := r.Find(ctx, db, o.OrgID, o.FeatureKey)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return stored, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, orgID snowflake.ID, featureKey string) (*domain.Override, error) {
	var o domain.Override
	err := db.WithContext(ctx).Raw(
		`SELECT `+overrideColumns+` FROM entitlements WHERE org_id = ? AND feature_key = ?`,
		orgID,
		featureKey,
	).Scan(&o).Error
	if err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, nil
	}
	return &o, nil
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Override, error) {
	var items []domain.Override
	err := db.WithContext(ctx).Raw(
		`SELECT `+overrideColumns+` FROM entitlements WHERE org_id = ? ORDER BY feature_key ASC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID snowflake.ID, featureKey string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM entitlements WHERE org_id = ? AND feature_key = ?`,
		orgID,
		featureKey,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
