package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tollgate/internal/flag/domain"
	"github.com/smallbiznis/tollgate/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const flagColumns = `id, flag_key, scope, scope_qualifier, env, org_id, value, payload, expires_at, owner, reason, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert replaces every mutable column of the row matching the natural key in
// one statement. The stored row keeps its original id and created_at.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, flag *domain.FeatureFlag) (*domain.FeatureFlag, error) {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "flag_key"},
			{Name: "scope"},
			{Name: "scope_qualifier"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"env", "org_id", "value", "payload", "expires_at", "owner", "reason", "updated_at",
		}),
	}).Create(flag).Error
	if err != nil {
		return nil, err
	}
	return r.findByNaturalKey(ctx, db, flag.Key, flag.Scope, flag.ScopeQualifier)
}

func (r *repo) findByNaturalKey(ctx context.Context, db *gorm.DB, key string, scope domain.Scope, qualifier string) (*domain.FeatureFlag, error) {
	var f domain.FeatureFlag
	err := db.WithContext(ctx).Raw(
		`SELECT `+flagColumns+` FROM feature_flags
		 WHERE flag_key = ? AND scope = ? AND scope_qualifier = ?`,
		key, scope, qualifier,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &f, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.FeatureFlag, error) {
	var f domain.FeatureFlag
	err := db.WithContext(ctx).Raw(
		`SELECT `+flagColumns+` FROM feature_flags WHERE id = ?`,
		id,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

// FindCandidates loads every row that could apply to the request in one query.
// Expiry is evaluated by the caller against its own clock.
func (r *repo) FindCandidates(ctx context.Context, db *gorm.DB, key, env string, orgID snowflake.ID) ([]domain.FeatureFlag, error) {
	query := `SELECT ` + flagColumns + ` FROM feature_flags WHERE flag_key = ? AND (scope = ?`
	args := []any{key, domain.ScopeGlobal}
	if env != "" {
		query += ` OR (scope = ? AND scope_qualifier = ?)`
		args = append(args, domain.ScopeEnv, env)
	}
	if orgID != 0 {
		query += ` OR (scope = ? AND scope_qualifier = ?)`
		args = append(args, domain.ScopeTenant, orgID.String())
	}
	query += `)`

	var rows []domain.FeatureFlag
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.FeatureFlag, error) {
	var items []domain.FeatureFlag
	stmt := db.WithContext(ctx).Model(&domain.FeatureFlag{})

	if filter.Key != "" {
		stmt = stmt.Where("flag_key = ?", filter.Key)
	}
	if filter.Scope != "" {
		stmt = stmt.Where("scope = ?", filter.Scope)
	}
	if filter.OrgID != nil {
		stmt = stmt.Where("org_id = ?", *filter.OrgID)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at": true,
		"updated_at": true,
		"flag_key":   true,
	})).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM feature_flags WHERE id = ?`, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
