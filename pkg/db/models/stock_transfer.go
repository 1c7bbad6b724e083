package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// StockTransfer moves a fixed quantity of one product between two shops.
type StockTransfer struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	FromShopID  uuid.UUID            `gorm:"column:from_shop_id;type:uuid;not null;index"`
	ToShopID    uuid.UUID            `gorm:"column:to_shop_id;type:uuid;not null;index"`
	ProductID   uuid.UUID            `gorm:"column:product_id;type:uuid;not null"`
	Quantity    int                  `gorm:"column:quantity;not null"`
	Status      enums.TransferStatus `gorm:"column:status;type:transfer_status;not null"`
	RequestedBy uuid.UUID            `gorm:"column:requested_by;type:uuid;not null"`
	ApprovedBy  *uuid.UUID           `gorm:"column:approved_by;type:uuid"`
	Notes       string               `gorm:"column:notes"`
	RequestedAt time.Time            `gorm:"column:requested_at;not null"`
	ApprovedAt  *time.Time           `gorm:"column:approved_at"`
	CompletedAt *time.Time           `gorm:"column:completed_at"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *StockTransfer) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
