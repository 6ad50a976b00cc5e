package models

import (
	"time"

	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// Purchase is a buyer's intent to acquire a work. It never returns to pending
// once completed and is never deleted.
type Purchase struct {
	ID           string               `gorm:"column:id;primaryKey"`
	WorkID       int64                `gorm:"column:work_id;not null;index"`
	BuyerID      int64                `gorm:"column:buyer_id;not null;index"`
	Amount       int64                `gorm:"column:amount;not null"`
	Funding      enums.FundingSource  `gorm:"column:funding;not null;default:balance"`
	Status       enums.PurchaseStatus `gorm:"column:status;not null;default:pending"`
	PaymentProof *string              `gorm:"column:payment_proof"`
	CompletedAt  *time.Time           `gorm:"column:completed_at"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
