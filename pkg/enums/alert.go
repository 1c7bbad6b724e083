package enums

import "fmt"

// AlertType maps to the alert_type enum in Postgres.
type AlertType string

const (
	AlertTypeLowStock     AlertType = "low_stock"
	AlertTypeStockoutRisk AlertType = "stockout_risk"
	AlertTypeHighDemand   AlertType = "high_demand"
	AlertTypeSeasonal     AlertType = "seasonal"
)

var validAlertTypes = []AlertType{
	AlertTypeLowStock,
	AlertTypeStockoutRisk,
	AlertTypeHighDemand,
	AlertTypeSeasonal,
}

// StockAlertTypes are the types raised by threshold evaluation.
var StockAlertTypes = []AlertType{AlertTypeLowStock, AlertTypeStockoutRisk}

// IsValid reports whether the value is a known AlertType.
func (a AlertType) IsValid() bool {
	for _, candidate := range validAlertTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAlertType converts raw input into an AlertType.
func ParseAlertType(value string) (AlertType, error) {
	for _, candidate := range validAlertTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid alert type %q", value)
}

// AlertSeverity maps to the alert_severity enum in Postgres.
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

var validAlertSeverities = []AlertSeverity{
	AlertSeverityLow,
	AlertSeverityMedium,
	AlertSeverityHigh,
	AlertSeverityCritical,
}

// IsValid reports whether the value is a known AlertSeverity.
func (s AlertSeverity) IsValid() bool {
	for _, candidate := range validAlertSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// Rank orders severities from low (1) to critical (4); unknown values rank 0.
func (s AlertSeverity) Rank() int {
	for i, candidate := range validAlertSeverities {
		if candidate == s {
			return i + 1
		}
	}
	return 0
}

// ParseAlertSeverity converts raw input into an AlertSeverity.
func ParseAlertSeverity(value string) (AlertSeverity, error) {
	for _, candidate := range validAlertSeverities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid alert severity %q", value)
}
