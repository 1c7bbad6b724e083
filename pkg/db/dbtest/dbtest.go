// Package dbtest opens throwaway SQLite databases migrated from the models
// and seeds the catalog rows tests build on.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/shopstock-backend/pkg/db"
	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
)

// Open returns a migrated in-memory database private to the test. The pool is
// capped at one connection so writers serialize like row locks would.
func Open(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return conn
}

// Client wraps Open in a db.Client for services that run their own transactions.
func Client(t *testing.T, name string) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t, name)
	return db.NewFromGorm(conn), conn
}

func MustShop(t *testing.T, conn *gorm.DB, name string) models.Shop {
	t.Helper()
	shop := models.Shop{Name: name, Location: name + " street", IsActive: true}
	if err := conn.Create(&shop).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}
	return shop
}

func MustProduct(t *testing.T, conn *gorm.DB, name string, price string) models.Product {
	t.Helper()
	product := models.Product{
		SKU:       "SKU-" + uuid.NewString(),
		Name:      name,
		UnitPrice: decimal.RequireFromString(price),
		IsActive:  true,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func MustStock(t *testing.T, conn *gorm.DB, shopID, productID uuid.UUID, quantity, minThreshold int) models.StockRecord {
	t.Helper()
	record := models.StockRecord{
		ShopID:       shopID,
		ProductID:    productID,
		Quantity:     quantity,
		MinThreshold: minThreshold,
	}
	if err := conn.Create(&record).Error; err != nil {
		t.Fatalf("create stock record: %v", err)
	}
	return record
}

// Quantity reads the on-hand quantity, failing the test if the record is missing.
func Quantity(t *testing.T, conn *gorm.DB, shopID, productID uuid.UUID) int {
	t.Helper()
	var record models.StockRecord
	if err := conn.Where("shop_id = ? AND product_id = ?", shopID, productID).First(&record).Error; err != nil {
		t.Fatalf("load stock record: %v", err)
	}
	return record.Quantity
}
