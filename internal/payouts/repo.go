package payouts

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/scholarmarket-backend/pkg/db/models"
	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// Repository persists payout requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, req *models.PayoutRequest) error
	Find(ctx context.Context, id int64) (*models.PayoutRequest, error)
	FindForUpdate(ctx context.Context, id int64) (*models.PayoutRequest, error)
	Resolve(ctx context.Context, id int64, status enums.PayoutStatus, adminID int64, at time.Time) (bool, error)
	ListPending(ctx context.Context, limit int) ([]models.PayoutRequest, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.PayoutRequest, error)
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

func (r *repository) Create(ctx context.Context, req *models.PayoutRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) Find(ctx context.Context, id int64) (*models.PayoutRequest, error) {
	var req models.PayoutRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repository) FindForUpdate(ctx context.Context, id int64) (*models.PayoutRequest, error) {
	var req models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// Resolve moves a pending request to its final status and reports whether this
// call did it.
func (r *repository) Resolve(ctx context.Context, id int64, status enums.PayoutStatus, adminID int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, enums.PayoutStatusPending).
		Updates(map[string]any{
			"status":      status,
			"resolved_by": adminID,
			"resolved_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.PayoutRequest, error) {
	var rows []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.PayoutStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.PayoutRequest, error) {
	var rows []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
