package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/pkg/enums"
)

// Alert is a generated notice about a shop's stock. ProductID nil means a general alert.
type Alert struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ShopID    uuid.UUID           `gorm:"column:shop_id;type:uuid;not null;index"`
	ProductID *uuid.UUID          `gorm:"column:product_id;type:uuid"`
	AlertType enums.AlertType     `gorm:"column:alert_type;type:alert_type;not null"`
	Severity  enums.AlertSeverity `gorm:"column:severity;type:alert_severity;not null"`
	Message   string              `gorm:"column:message;not null"`
	IsRead    bool                `gorm:"column:is_read;not null;default:false"`
	ReadBy    *uuid.UUID          `gorm:"column:read_by;type:uuid"`
	ReadAt    *time.Time          `gorm:"column:read_at"`
	CreatedAt time.Time           `gorm:"column:created_at"`
}

func (a *Alert) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}
