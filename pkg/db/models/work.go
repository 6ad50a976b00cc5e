package models

import (
	"time"

	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// Work is a listed academic work. Price, AuthorIncome and TotalEarnings are
// minor currency units.
type Work struct {
	ID             int64            `gorm:"column:id;primaryKey;autoIncrement"`
	Title          string           `gorm:"column:title;not null"`
	Description    string           `gorm:"column:description"`
	Price          int64            `gorm:"column:price;not null"`
	AuthorIncome   int64            `gorm:"column:author_income;not null"`
	CategoryID     *int64           `gorm:"column:category_id"`
	SubcategoryID  *int64           `gorm:"column:subcategory_id"`
	AuthorID       int64            `gorm:"column:author_id;not null"`
	PreviewImageID string           `gorm:"column:preview_image_id"`
	TimesSold      int64            `gorm:"column:times_sold;not null;default:0"`
	TotalEarnings  int64            `gorm:"column:total_earnings;not null;default:0"`
	Status         enums.WorkStatus `gorm:"column:status;not null;default:pending"`
	IsDeleted      bool             `gorm:"column:is_deleted;not null;default:false"`
	ModeratedBy    *int64           `gorm:"column:moderated_by"`
	ModeratedAt    *time.Time       `gorm:"column:moderated_at"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`

	Files []WorkFile `gorm:"foreignKey:WorkID"`
}

// WorkFile is an opaque reference to a stored artifact of a work.
type WorkFile struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	WorkID   int64  `gorm:"column:work_id;not null;index"`
	FileID   string `gorm:"column:file_id;not null"`
	FileName string `gorm:"column:file_name"`
}

func (WorkFile) TableName() string { return "files" }

// Category is read-only reference data for listings.
type Category struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name     string `gorm:"column:name;not null"`
	ParentID *int64 `gorm:"column:parent_id"`
}
