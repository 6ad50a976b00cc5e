package models

import (
	"time"

	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// PayoutRequest is an author's request to withdraw accumulated earnings.
type PayoutRequest struct {
	ID         int64              `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     int64              `gorm:"column:user_id;not null;index"`
	Amount     int64              `gorm:"column:amount;not null"`
	Requisites string             `gorm:"column:requisites"`
	Status     enums.PayoutStatus `gorm:"column:status;not null;default:pending"`
	ResolvedBy *int64             `gorm:"column:resolved_by"`
	ResolvedAt *time.Time         `gorm:"column:resolved_at"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (PayoutRequest) TableName() string { return "payouts" }
