package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// StockMovement is an append-only audit row written alongside every stock mutation.
type StockMovement struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	ShopID         uuid.UUID                 `gorm:"column:shop_id;type:uuid;not null;index:idx_stock_movements_key,priority:1"`
	ProductID      uuid.UUID                 `gorm:"column:product_id;type:uuid;not null;index:idx_stock_movements_key,priority:2"`
	Reason         enums.StockMovementReason `gorm:"column:reason;type:stock_movement_reason;not null"`
	QuantityDelta  int                       `gorm:"column:quantity_delta;not null"`
	QuantityBefore int                       `gorm:"column:quantity_before;not null"`
	QuantityAfter  int                       `gorm:"column:quantity_after;not null"`
	ReferenceID    *uuid.UUID                `gorm:"column:reference_id;type:uuid"`
	ActorID        *uuid.UUID                `gorm:"column:actor_id;type:uuid"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (m *StockMovement) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
