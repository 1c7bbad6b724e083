package alerts

import (
	"fmt"

	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// Classification is the alert a record's stock level calls for.
type Classification struct {
	Type     enums.AlertType
	Severity enums.AlertSeverity
}

// Classify maps a record to an alert. ok is false while quantity is above the threshold.
func Classify(record models.StockRecord) (Classification, bool) {
	switch {
	case record.Quantity > record.MinThreshold:
		return Classification{}, false
	case record.Quantity == 0:
		return Classification{Type: enums.AlertTypeStockoutRisk, Severity: enums.AlertSeverityCritical}, true
	case float64(record.Quantity) <= float64(record.MinThreshold)*0.5:
		return Classification{Type: enums.AlertTypeStockoutRisk, Severity: enums.AlertSeverityHigh}, true
	default:
		return Classification{Type: enums.AlertTypeLowStock, Severity: enums.AlertSeverityMedium}, true
	}
}

func message(c Classification, productName, shopName string, record models.StockRecord) string {
	switch c.Severity {
	case enums.AlertSeverityCritical:
		return fmt.Sprintf("%s is out of stock at %s", productName, shopName)
	case enums.AlertSeverityHigh:
		return fmt.Sprintf("%s is critically low at %s (%d units remaining, threshold: %d)", productName, shopName, record.Quantity, record.MinThreshold)
	default:
		return fmt.Sprintf("%s is below minimum threshold at %s (%d units, threshold: %d)", productName, shopName, record.Quantity, record.MinThreshold)
	}
}
