package enums

// StockMovementReason explains why a stock record changed.
type StockMovementReason string

const (
	StockMovementSale        StockMovementReason = "sale"
	StockMovementTransferOut StockMovementReason = "transfer_out"
	StockMovementTransferIn  StockMovementReason = "transfer_in"
	StockMovementAdjustment  StockMovementReason = "adjustment"
)

var validStockMovementReasons = []StockMovementReason{
	StockMovementSale,
	StockMovementTransferOut,
	StockMovementTransferIn,
	StockMovementAdjustment,
}

// IsValid reports whether the value is a known StockMovementReason.
func (r StockMovementReason) IsValid() bool {
	for _, candidate := range validStockMovementReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
