package stock

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
)

// Shortfall describes one product whose on-hand quantity cannot cover a request.
type Shortfall struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// InsufficientStockError reports every shortfall in a single INSUFFICIENT_STOCK error.
func InsufficientStockError(shortfalls []Shortfall) error {
	msg := "insufficient stock"
	if len(shortfalls) == 1 {
		s := shortfalls[0]
		msg = fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", s.ProductID, s.Requested, s.Available)
	} else if len(shortfalls) > 1 {
		msg = fmt.Sprintf("insufficient stock for %d products", len(shortfalls))
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, msg).WithDetails(shortfalls)
}

// Shortfalls extracts the shortfall list from an INSUFFICIENT_STOCK error.
func Shortfalls(err error) []Shortfall {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		return nil
	}
	list, _ := typed.Details().([]Shortfall)
	return list
}
