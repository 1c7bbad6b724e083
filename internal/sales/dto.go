package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// RecordSaleInput is the payload of a point-of-sale checkout.
type RecordSaleInput struct {
	ShopID        uuid.UUID           `json:"shop_id" validate:"required"`
	Lines         []LineInput         `json:"lines" validate:"required,min=1,dive"`
	Discount      decimal.Decimal     `json:"discount" validate:"gte=0"`
	Tax           decimal.Decimal     `json:"tax" validate:"gte=0"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Notes         string              `json:"notes" validate:"max=2000"`
}

// LineInput is one product line of a sale.
type LineInput struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// SaleResult describes a committed sale.
type SaleResult struct {
	ID              uuid.UUID           `json:"id"`
	ShopID          uuid.UUID           `json:"shop_id"`
	StaffID         uuid.UUID           `json:"staff_id"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	Discount        decimal.Decimal     `json:"discount"`
	Tax             decimal.Decimal     `json:"tax"`
	FinalAmount     decimal.Decimal     `json:"final_amount"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	Notes           string              `json:"notes,omitempty"`
	TransactionDate time.Time           `json:"transaction_date"`
	Lines           []LineResult        `json:"lines"`
}

// LineResult is a stored sale line.
type LineResult struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// ListParams pages through a shop's sales, newest first.
type ListParams struct {
	Limit  int
	Cursor string
}

func toResult(sale models.Sale) SaleResult {
	lines := make([]LineResult, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		lines = append(lines, LineResult{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		})
	}
	return SaleResult{
		ID:              sale.ID,
		ShopID:          sale.ShopID,
		StaffID:         sale.StaffID,
		TotalAmount:     sale.TotalAmount,
		Discount:        sale.Discount,
		Tax:             sale.Tax,
		FinalAmount:     sale.FinalAmount,
		PaymentMethod:   sale.PaymentMethod,
		Notes:           sale.Notes,
		TransactionDate: sale.TransactionDate,
		Lines:           lines,
	}
}
