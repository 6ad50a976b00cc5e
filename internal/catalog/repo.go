package catalog

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// Repository persists works, their files and the category reference data.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateWork(ctx context.Context, work *models.Work) error
	FindWork(ctx context.Context, id int64) (*models.Work, error)
	ListFiles(ctx context.Context, workID int64) ([]models.WorkFile, error)
	ListApproved(ctx context.Context, categoryID int64, beforeID int64, limit int) ([]models.Work, error)
	ListPending(ctx context.Context, limit int) ([]models.Work, error)
	ListByAuthor(ctx context.Context, authorID int64) ([]models.Work, error)
	TransitionStatus(ctx context.Context, id int64, from, to enums.WorkStatus, moderatorID int64) (bool, error)
	MarkDeleted(ctx context.Context, id int64) (bool, error)
	DeleteWithFiles(ctx context.Context, id int64) error
	UpdateDetails(ctx context.Context, id int64, fields map[string]any) error
	RecordSale(ctx context.Context, id int64, amount int64) (bool, error)
	ListCategories(ctx context.Context, parentID *int64) ([]models.Category, error)
	SumAuthorCredits(ctx context.Context, authorID int64) (map[int64]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateWork inserts the work and its file rows together.
func (r *repository) CreateWork(ctx context.Context, work *models.Work) error {
	return r.db.WithContext(ctx).Create(work).Error
}

func (r *repository) FindWork(ctx context.Context, id int64) (*models.Work, error) {
	var work models.Work
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&work).Error; err != nil {
		return nil, err
	}
	return &work, nil
}

func (r *repository) ListFiles(ctx context.Context, workID int64) ([]models.WorkFile, error) {
	var files []models.WorkFile
	if err := r.db.WithContext(ctx).
		Where("work_id = ?", workID).
		Order("id ASC").
		Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// ListApproved returns visible works whose category or subcategory matches,
// newest first, starting below beforeID when it is set.
func (r *repository) ListApproved(ctx context.Context, categoryID int64, beforeID int64, limit int) ([]models.Work, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND is_deleted = ?", enums.WorkStatusApproved, false).
		Where("category_id = ? OR subcategory_id = ?", categoryID, categoryID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var works []models.Work
	if err := q.Order("id DESC").Limit(limit).Find(&works).Error; err != nil {
		return nil, err
	}
	return works, nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.Work, error) {
	var works []models.Work
	if err := r.db.WithContext(ctx).
		Where("status = ? AND is_deleted = ?", enums.WorkStatusPending, false).
		Order("id ASC").
		Limit(limit).
		Find(&works).Error; err != nil {
		return nil, err
	}
	return works, nil
}

func (r *repository) ListByAuthor(ctx context.Context, authorID int64) ([]models.Work, error) {
	var works []models.Work
	if err := r.db.WithContext(ctx).
		Where("author_id = ? AND is_deleted = ?", authorID, false).
		Order("id DESC").
		Find(&works).Error; err != nil {
		return nil, err
	}
	return works, nil
}

// TransitionStatus moves a live work from one status to another and reports
// whether this call performed the change.
func (r *repository) TransitionStatus(ctx context.Context, id int64, from, to enums.WorkStatus, moderatorID int64) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Work{}).
		Where("id = ? AND status = ? AND is_deleted = ?", id, from, false).
		Updates(map[string]any{
			"status":       to,
			"moderated_by": moderatorID,
			"moderated_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkDeleted(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Work{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"is_deleted": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteWithFiles(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Where("work_id = ?", id).Delete(&models.WorkFile{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Work{}).Error
}

func (r *repository) UpdateDetails(ctx context.Context, id int64, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.Work{}).Where("id = ?", id).Updates(fields).Error
}

// RecordSale bumps the sales counters. Counters only ever grow.
func (r *repository) RecordSale(ctx context.Context, id int64, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Work{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"times_sold":     gorm.Expr("times_sold + 1"),
			"total_earnings": gorm.Expr("total_earnings + ?", amount),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListCategories(ctx context.Context, parentID *int64) ([]models.Category, error) {
	q := r.db.WithContext(ctx)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var categories []models.Category
	if err := q.Order("name ASC").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// SumAuthorCredits totals the sale credits the ledger actually paid authorID,
// keyed by work.
func (r *repository) SumAuthorCredits(ctx context.Context, authorID int64) (map[int64]int64, error) {
	var rows []struct {
		WorkID int64
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("work_id, COALESCE(SUM(amount), 0) AS total").
		Where("to_user = ? AND type = ? AND work_id IS NOT NULL", authorID, enums.TransactionPurchase).
		Group("work_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int64, len(rows))
	for _, row := range rows {
		totals[row.WorkID] = row.Total
	}
	return totals, nil
}
