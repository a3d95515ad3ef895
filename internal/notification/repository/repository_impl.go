package repository

import (
	"context"

	"github.com/smallbiznis/tollgate/internal/notification/domain"
	"gorm.io/gorm"
)

const insertBatchSize = 100

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, tasks []domain.NotificationTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(&tasks, insertBatchSize).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.NotificationTask, error) {
	var tasks []domain.NotificationTask
	stmt := db.WithContext(ctx).Model(&domain.NotificationTask{})

	if filter.OrgID != nil {
		stmt = stmt.Where("org_id = ?", *filter.OrgID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CycleRunID != "" {
		stmt = stmt.Where("cycle_run_id = ?", filter.CycleRunID)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
