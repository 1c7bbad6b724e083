package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// Sale is one completed point-of-sale transaction. Immutable once stored.
type Sale struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ShopID          uuid.UUID           `gorm:"column:shop_id;type:uuid;not null;index"`
	StaffID         uuid.UUID           `gorm:"column:staff_id;type:uuid;not null"`
	TotalAmount     decimal.Decimal     `gorm:"column:total_amount;type:numeric(10,2);not null"`
	Discount        decimal.Decimal     `gorm:"column:discount;type:numeric(10,2);not null"`
	Tax             decimal.Decimal     `gorm:"column:tax;type:numeric(10,2);not null"`
	FinalAmount     decimal.Decimal     `gorm:"column:final_amount;type:numeric(10,2);not null"`
	PaymentMethod   enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Notes           string              `gorm:"column:notes"`
	TransactionDate time.Time           `gorm:"column:transaction_date;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	Lines           []SaleLine          `gorm:"foreignKey:SaleID"`
}

func (s *Sale) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// SaleLine is one product line within a sale.
type SaleLine struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SaleID    uuid.UUID       `gorm:"column:sale_id;type:uuid;not null;index"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Quantity  int             `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(10,2);not null"`
	Subtotal  decimal.Decimal `gorm:"column:subtotal;type:numeric(10,2);not null"`
}

func (l *SaleLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
