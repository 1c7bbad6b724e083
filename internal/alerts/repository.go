package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	"github.com/angelmondragon/shopstock-backend/pkg/pagination"
)

// Repository persists alerts.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindUnreadAlert returns the unread alert of the given type for the
// (shop, product) pair, locked for update, or nil.
func (r *Repository) FindUnreadAlert(ctx context.Context, shopID, productID uuid.UUID, alertType enums.AlertType) (*models.Alert, error) {
	var alert models.Alert
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ? AND product_id = ? AND is_read = ?", shopID, productID, false).
		Where("alert_type = ?", alertType).
		Order("created_at DESC").
		First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alert, nil
}

// FindEscalatableStockAlert returns the newest unread, non-critical threshold
// alert for the (shop, product) pair, locked for update, or nil.
func (r *Repository) FindEscalatableStockAlert(ctx context.Context, shopID, productID uuid.UUID) (*models.Alert, error) {
	var alert models.Alert
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ? AND product_id = ? AND is_read = ?", shopID, productID, false).
		Where("alert_type IN ?", enums.StockAlertTypes).
		Where("severity <> ?", enums.AlertSeverityCritical).
		Order("created_at DESC").
		First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alert, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	var alert models.Alert
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alert, nil
}

func (r *Repository) Create(ctx context.Context, alert *models.Alert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

// Escalate rewrites the classification of an unread alert in place.
func (r *Repository) Escalate(ctx context.Context, alert *models.Alert) error {
	return r.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("id = ? AND is_read = ?", alert.ID, false).
		Updates(map[string]any{
			"alert_type": alert.AlertType,
			"severity":   alert.Severity,
			"message":    alert.Message,
			"created_at": alert.CreatedAt,
		}).Error
}

// List returns alerts newest first, reading one row past limit so the caller
// can tell whether another page exists.
func (r *Repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Alert, error) {
	q := r.db.WithContext(ctx).Model(&models.Alert{})
	if filter.ShopID != nil {
		q = q.Where("shop_id = ?", *filter.ShopID)
	}
	if filter.ProductID != nil {
		q = q.Where("product_id = ?", *filter.ProductID)
	}
	if filter.Type != nil {
		q = q.Where("alert_type = ?", *filter.Type)
	}
	if filter.Severity != nil {
		q = q.Where("severity = ?", *filter.Severity)
	}
	if filter.IsRead != nil {
		q = q.Where("is_read = ?", *filter.IsRead)
	}
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Alert
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// MarkRead flags one unread alert; already-read alerts are left untouched.
func (r *Repository) MarkRead(ctx context.Context, id, readerID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_by": readerID, "read_at": at})
	return res.RowsAffected, res.Error
}

func (r *Repository) MarkAllRead(ctx context.Context, shopID, readerID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("shop_id = ? AND is_read = ?", shopID, false).
		Updates(map[string]any{"is_read": true, "read_by": readerID, "read_at": at})
	return res.RowsAffected, res.Error
}

// DeleteReadBefore removes read alerts created before cutoff.
func (r *Repository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.Alert{})
	return res.RowsAffected, res.Error
}
