package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// StockKey identifies a stock record touched by an event.
type StockKey struct {
	ShopID    uuid.UUID `json:"shop_id"`
	ProductID uuid.UUID `json:"product_id"`
}

// StockTouching is implemented by payloads whose stock keys need alert re-evaluation.
type StockTouching interface {
	TouchedStock() []StockKey
}

// SaleLineRef summarizes one debited line of a sale.
type SaleLineRef struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// SaleRecordedEvent is emitted when a sale commits.
type SaleRecordedEvent struct {
	SaleID        uuid.UUID           `json:"sale_id"`
	ShopID        uuid.UUID           `json:"shop_id"`
	StaffID       uuid.UUID           `json:"staff_id"`
	FinalAmount   decimal.Decimal     `json:"final_amount"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Lines         []SaleLineRef       `json:"lines"`
}

// TouchedStock returns one key per distinct product sold.
func (e SaleRecordedEvent) TouchedStock() []StockKey {
	seen := map[uuid.UUID]struct{}{}
	keys := make([]StockKey, 0, len(e.Lines))
	for _, line := range e.Lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		keys = append(keys, StockKey{ShopID: e.ShopID, ProductID: line.ProductID})
	}
	return keys
}

// TransferStatusChangedEvent is emitted on every transfer transition, including creation.
type TransferStatusChangedEvent struct {
	TransferID     uuid.UUID            `json:"transfer_id"`
	FromShopID     uuid.UUID            `json:"from_shop_id"`
	ToShopID       uuid.UUID            `json:"to_shop_id"`
	ProductID      uuid.UUID            `json:"product_id"`
	Quantity       int                  `json:"quantity"`
	Action         enums.TransferAction `json:"action"`
	PreviousStatus enums.TransferStatus `json:"previous_status,omitempty"`
	Status         enums.TransferStatus `json:"status"`
	ActorID        uuid.UUID            `json:"actor_id"`
}

// TouchedStock returns the source record once the transfer has moved stock.
func (e TransferStatusChangedEvent) TouchedStock() []StockKey {
	if e.Status != enums.TransferStatusCompleted {
		return nil
	}
	return []StockKey{{ShopID: e.FromShopID, ProductID: e.ProductID}}
}

// StockAdjustedEvent is emitted when a record is configured or adjusted directly.
type StockAdjustedEvent struct {
	StockRecordID uuid.UUID `json:"stock_record_id"`
	ShopID        uuid.UUID `json:"shop_id"`
	ProductID     uuid.UUID `json:"product_id"`
	Quantity      int       `json:"quantity"`
	Delta         int       `json:"delta"`
	MinThreshold  int       `json:"min_threshold"`
}

// TouchedStock returns the adjusted record.
func (e StockAdjustedEvent) TouchedStock() []StockKey {
	return []StockKey{{ShopID: e.ShopID, ProductID: e.ProductID}}
}

// AlertRaisedEvent is emitted when an alert is created or escalated.
type AlertRaisedEvent struct {
	AlertID      uuid.UUID           `json:"alert_id"`
	ShopID       uuid.UUID           `json:"shop_id"`
	ProductID    *uuid.UUID          `json:"product_id,omitempty"`
	AlertType    enums.AlertType     `json:"alert_type"`
	Severity     enums.AlertSeverity `json:"severity"`
	Message      string              `json:"message"`
	Escalated    bool                `json:"escalated"`
	Quantity     int                 `json:"quantity"`
	MinThreshold int                 `json:"min_threshold"`
}
