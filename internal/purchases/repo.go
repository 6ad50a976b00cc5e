package purchases

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// Repository persists purchase intents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, purchase *models.Purchase) error
	Find(ctx context.Context, id string) (*models.Purchase, error)
	FindForUpdate(ctx context.Context, id string) (*models.Purchase, error)
	MarkCompleted(ctx context.Context, id string, proof *string, at time.Time) (bool, error)
	ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]models.Purchase, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, purchase *models.Purchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) Find(ctx context.Context, id string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&purchase).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// FindForUpdate row-locks the purchase on postgres. SQLite already serializes
// writers through the immediate transaction.
func (r *repository) FindForUpdate(ctx context.Context, id string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&purchase).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// MarkCompleted flips a pending purchase to completed. It reports false when
// the purchase was not pending, which is the double-settlement guard.
func (r *repository) MarkCompleted(ctx context.Context, id string, proof *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":       enums.PurchaseStatusCompleted,
		"completed_at": at,
		"updated_at":   at,
	}
	if proof != nil {
		updates["payment_proof"] = *proof
	}
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND status = ?", id, enums.PurchaseStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]models.Purchase, error) {
	var rows []models.Purchase
	if err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
