package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
)

// Repository persists stock records and their movement audit rows.
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

// Find returns the record for the key, or nil when none exists.
func (r *Repository) Find(ctx context.Context, shopID, productID uuid.UUID) (*models.StockRecord, error) {
	return r.find(r.db.WithContext(ctx), shopID, productID)
}

// FindForUpdate is Find with a row lock held until the transaction ends.
// SQLite ignores the locking clause; its single writer gives the same guarantee.
func (r *Repository) FindForUpdate(ctx context.Context, shopID, productID uuid.UUID) (*models.StockRecord, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), shopID, productID)
}

func (r *Repository) find(q *gorm.DB, shopID, productID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	err := q.Where("shop_id = ? AND product_id = ?", shopID, productID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ConditionalDebit subtracts quantity only while enough stock remains. Zero
// rows affected means the guard failed.
func (r *Repository) ConditionalDebit(ctx context.Context, shopID, productID uuid.UUID, quantity int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("shop_id = ? AND product_id = ? AND quantity >= ?", shopID, productID, quantity).
		Updates(map[string]any{
			"quantity":     gorm.Expr("quantity - ?", quantity),
			"last_updated": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// Increment adds quantity to an existing record.
func (r *Repository) Increment(ctx context.Context, shopID, productID uuid.UUID, quantity int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("shop_id = ? AND product_id = ?", shopID, productID).
		Updates(map[string]any{
			"quantity":     gorm.Expr("quantity + ?", quantity),
			"last_updated": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// InsertIfAbsent creates an empty record for the key; a concurrent insert of
// the same key is silently ignored.
func (r *Repository) InsertIfAbsent(ctx context.Context, shopID, productID uuid.UUID) error {
	record := models.StockRecord{ShopID: shopID, ProductID: productID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shop_id"}, {Name: "product_id"}},
			DoNothing: true,
		}).
		Create(&record).Error
}

func (r *Repository) Create(ctx context.Context, record *models.StockRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// UpdateSettings overwrites quantity and thresholds of an existing record.
func (r *Repository) UpdateSettings(ctx context.Context, record *models.StockRecord) error {
	return r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"quantity":      record.Quantity,
			"min_threshold": record.MinThreshold,
			"max_capacity":  record.MaxCapacity,
			"last_updated":  time.Now().UTC(),
		}).Error
}

func (r *Repository) InsertMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

// ListLow returns records at or below their threshold, optionally narrowed to a shop or product.
func (r *Repository) ListLow(ctx context.Context, filter LowStockFilter) ([]models.StockRecord, error) {
	q := r.db.WithContext(ctx).Where("quantity <= min_threshold")
	if filter.ShopID != nil {
		q = q.Where("shop_id = ?", *filter.ShopID)
	}
	if filter.ProductID != nil {
		q = q.Where("product_id = ?", *filter.ProductID)
	}
	var records []models.StockRecord
	err := q.Order("shop_id ASC").Order("product_id ASC").Find(&records).Error
	return records, err
}

func (r *Repository) ListMovements(ctx context.Context, shopID, productID uuid.UUID, limit int) ([]models.StockMovement, error) {
	var rows []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND product_id = ?", shopID, productID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
