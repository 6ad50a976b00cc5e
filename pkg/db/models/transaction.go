package models

import (
	"time"

	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// Transaction is one append-only movement of funds. A nil FromUser is money
// entering the system; a nil ToUser is money leaving it.
type Transaction struct {
	ID         int64                 `gorm:"column:id;primaryKey;autoIncrement"`
	FromUser   *int64                `gorm:"column:from_user;index"`
	ToUser     *int64                `gorm:"column:to_user;index"`
	WorkID     *int64                `gorm:"column:work_id"`
	PurchaseID *string               `gorm:"column:purchase_id"`
	Amount     int64                 `gorm:"column:amount;not null"`
	Type       enums.TransactionKind `gorm:"column:type;not null"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
}
