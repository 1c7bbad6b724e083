package transfers

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// RequestInput asks to move stock of one product between two shops.
type RequestInput struct {
	FromShopID uuid.UUID `json:"from_shop_id" validate:"required"`
	ToShopID   uuid.UUID `json:"to_shop_id" validate:"required"`
	ProductID  uuid.UUID `json:"product_id" validate:"required"`
	Quantity   int       `json:"quantity" validate:"gte=1"`
	Notes      string    `json:"notes" validate:"max=2000"`
}

// ListFilter narrows List. Nil fields are ignored; ShopID matches either side
// of the transfer.
type ListFilter struct {
	Status *enums.TransferStatus
	ShopID *uuid.UUID
	Limit  int
	Cursor string
}
