package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
)

// ShopRef is the display data other components need about a shop.
type ShopRef struct {
	ID       uuid.UUID
	Name     string
	IsActive bool
}

// ProductRef is the display data other components need about a product.
type ProductRef struct {
	ID        uuid.UUID
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	IsActive  bool
}

// Directory resolves shops and products. Missing ids yield NOT_FOUND.
type Directory interface {
	Shop(ctx context.Context, id uuid.UUID) (*ShopRef, error)
	Product(ctx context.Context, id uuid.UUID) (*ProductRef, error)
	Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ProductRef, error)
}

// Repository is the gorm-backed Directory.
type Repository struct {
	db *gorm.DB
}

var _ Directory = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Shop(ctx context.Context, id uuid.UUID) (*ShopRef, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "shop %s not found", id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	return &ShopRef{ID: shop.ID, Name: shop.Name, IsActive: shop.IsActive}, nil
}

func (r *Repository) Product(ctx context.Context, id uuid.UUID) (*ProductRef, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "product %s not found", id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	ref := toProductRef(product)
	return &ref, nil
}

// Products loads every id in one query and fails with NOT_FOUND naming the
// first id that does not exist.
func (r *Repository) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ProductRef, error) {
	out := make(map[uuid.UUID]ProductRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	for _, row := range rows {
		out[row.ID] = toProductRef(row)
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "product %s not found", id).
				WithDetails(map[string]any{"product_id": id.String()})
		}
	}
	return out, nil
}

func toProductRef(p models.Product) ProductRef {
	return ProductRef{
		ID:        p.ID,
		SKU:       p.SKU,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		IsActive:  p.IsActive,
	}
}
