package transfers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/pagination"
)

// Repository persists stock transfers.
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

func (r *Repository) Create(ctx context.Context, transfer *models.StockTransfer) error {
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockTransfer, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindForUpdate loads a transfer and holds its row lock until the transaction ends.
func (r *Repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.StockTransfer, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *Repository) find(q *gorm.DB, id uuid.UUID) (*models.StockTransfer, error) {
	var transfer models.StockTransfer
	if err := q.Where("id = ?", id).First(&transfer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &transfer, nil
}

// UpdateReview persists a status change together with its review and
// completion stamps.
func (r *Repository) UpdateReview(ctx context.Context, transfer *models.StockTransfer) error {
	return r.db.WithContext(ctx).
		Model(&models.StockTransfer{}).
		Where("id = ?", transfer.ID).
		Updates(map[string]any{
			"status":       transfer.Status,
			"approved_by":  transfer.ApprovedBy,
			"approved_at":  transfer.ApprovedAt,
			"completed_at": transfer.CompletedAt,
			"updated_at":   transfer.UpdatedAt,
		}).Error
}

// List returns transfers newest first, keyed on (requested_at, id).
func (r *Repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.StockTransfer, error) {
	q := r.db.WithContext(ctx).Model(&models.StockTransfer{})
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.ShopID != nil {
		q = q.Where("from_shop_id = ? OR to_shop_id = ?", *filter.ShopID, *filter.ShopID)
	}
	if cursor != nil {
		q = q.Where("(requested_at < ?) OR (requested_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.StockTransfer
	err := q.Order("requested_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
