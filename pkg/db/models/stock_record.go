package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockRecord is the quantity on hand for one (shop, product) pair.
type StockRecord struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ShopID       uuid.UUID `gorm:"column:shop_id;type:uuid;not null;uniqueIndex:ux_stock_records_shop_product,priority:1"`
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_records_shop_product,priority:2"`
	Quantity     int       `gorm:"column:quantity;not null;default:0;check:chk_stock_records_quantity,quantity >= 0"`
	MinThreshold int       `gorm:"column:min_threshold;not null;default:0"`
	MaxCapacity  *int      `gorm:"column:max_capacity"`
	LastUpdated  time.Time `gorm:"column:last_updated;autoUpdateTime"`
}

func (s *StockRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// IsLow reports whether the record sits at or below its threshold.
func (s StockRecord) IsLow() bool {
	return s.Quantity <= s.MinThreshold
}
