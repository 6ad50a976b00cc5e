package models

import "time"

// Account is a chat user and their balance in minor currency units. The row is
// keyed by the chat platform's user id.
type Account struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	Username     string    `gorm:"column:username"`
	Balance      int64     `gorm:"column:balance;not null;default:0"`
	IsSubscribed bool      `gorm:"column:is_subscribed;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string { return "users" }
