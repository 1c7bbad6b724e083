package stock

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/internal/catalog"
	"github.com/angelmondragon/shopstock-backend/pkg/db"
	"github.com/angelmondragon/shopstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
)

type ledgerFixture struct {
	ledger Ledger
	client *db.Client
	conn   *gorm.DB
	shop   models.Shop
	p1     models.Product
	p2     models.Product
}

type stubEvaluator struct {
	calls []models.StockRecord
	err   error
}

func (s *stubEvaluator) Evaluate(_ context.Context, record models.StockRecord) (*models.Alert, error) {
	s.calls = append(s.calls, record)
	return nil, s.err
}

func newLedgerFixture(t *testing.T, evaluator AlertEvaluator) ledgerFixture {
	t.Helper()
	client, conn := dbtest.Client(t, "stock")
	params := LedgerParams{
		DB:         client,
		Repo:       NewRepository(conn),
		Directory:  catalog.NewRepository(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		MaxRetries: 3,
	}
	if evaluator != nil {
		params.Evaluator = evaluator
	}
	ledger, err := NewLedger(params)
	require.NoError(t, err)
	return ledgerFixture{
		ledger: ledger,
		client: client,
		conn:   conn,
		shop:   dbtest.MustShop(t, conn, "Downtown"),
		p1:     dbtest.MustProduct(t, conn, "Espresso Beans", "12.50"),
		p2:     dbtest.MustProduct(t, conn, "Oat Milk", "3.20"),
	}
}

func (f ledgerFixture) debit(productID uuid.UUID, quantity int) (*models.StockRecord, error) {
	var out *models.StockRecord
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		record, err := f.ledger.Debit(context.Background(), tx, Mutation{
			ShopID:    f.shop.ID,
			ProductID: productID,
			Quantity:  quantity,
			Reason:    enums.StockMovementSale,
		})
		out = record
		return err
	})
	return out, err
}

func TestNewLedgerRequiresDependencies(t *testing.T) {
	_, err := NewLedger(LedgerParams{})
	require.Error(t, err)
}

func TestDebitReducesQuantityAndRecordsMovement(t *testing.T) {
	f := newLedgerFixture(t, nil)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 10, 5)

	record, err := f.debit(f.p1.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, record.Quantity)
	assert.Equal(t, 6, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))

	movements, err := f.ledger.Movements(context.Background(), f.shop.ID, f.p1.ID, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, -4, movements[0].QuantityDelta)
	assert.Equal(t, 10, movements[0].QuantityBefore)
	assert.Equal(t, 6, movements[0].QuantityAfter)
	assert.Equal(t, enums.StockMovementSale, movements[0].Reason)
}

func TestDebitInsufficientLeavesStockUnchanged(t *testing.T) {
	f := newLedgerFixture(t, nil)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 3, 1)

	_, err := f.debit(f.p1.ID, 5)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	assert.Equal(t, []Shortfall{{ProductID: f.p1.ID, Requested: 5, Available: 3}}, Shortfalls(err))
	assert.Equal(t, 3, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
}

func TestDebitMissingRecordIsInsufficient(t *testing.T) {
	f := newLedgerFixture(t, nil)

	_, err := f.debit(f.p1.ID, 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	assert.Equal(t, 0, Shortfalls(err)[0].Available)
}

func TestDebitRejectsInvalidQuantity(t *testing.T) {
	f := newLedgerFixture(t, nil)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 3, 1)

	_, err := f.debit(f.p1.ID, 0)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestCreditCreatesMissingRecord(t *testing.T) {
	f := newLedgerFixture(t, nil)
	ref := uuid.New()

	var record *models.StockRecord
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		record, err = f.ledger.Credit(context.Background(), tx, Mutation{
			ShopID:      f.shop.ID,
			ProductID:   f.p2.ID,
			Quantity:    7,
			Reason:      enums.StockMovementTransferIn,
			ReferenceID: &ref,
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 7, record.Quantity)
	assert.Equal(t, 0, record.MinThreshold)

	stored, err := f.ledger.Get(context.Background(), f.shop.ID, f.p2.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Quantity)

	movements, err := f.ledger.Movements(context.Background(), f.shop.ID, f.p2.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.NotNil(t, movements[0].ReferenceID)
	assert.Equal(t, ref, *movements[0].ReferenceID)
}

func TestCreditAddsToExistingRecord(t *testing.T) {
	f := newLedgerFixture(t, nil)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 2, 1)

	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.ledger.Credit(context.Background(), tx, Mutation{
			ShopID: f.shop.ID, ProductID: f.p1.ID, Quantity: 3, Reason: enums.StockMovementTransferIn,
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 5, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
}

func TestGetMissingRecordIsNotFound(t *testing.T) {
	f := newLedgerFixture(t, nil)
	_, err := f.ledger.Get(context.Background(), f.shop.ID, f.p1.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestDebitMultiReportsEveryShortfallAndWritesNothing(t *testing.T) {
	f := newLedgerFixture(t, nil)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 10, 2)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p2.ID, 1, 0)

	lines := []Line{
		{ProductID: f.p1.ID, Quantity: 6},
		{ProductID: f.p2.ID, Quantity: 2},
		{ProductID: f.p1.ID, Quantity: 6},
	}
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.ledger.DebitMulti(context.Background(), tx, f.shop.ID, lines, enums.StockMovementSale, nil, nil)
		return err
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)

	shortfalls := Shortfalls(err)
	require.Len(t, shortfalls, 2)
	byProduct := map[uuid.UUID]Shortfall{}
	for _, s := range shortfalls {
		byProduct[s.ProductID] = s
	}
	assert.Equal(t, Shortfall{ProductID: f.p1.ID, Requested: 12, Available: 10}, byProduct[f.p1.ID])
	assert.Equal(t, Shortfall{ProductID: f.p2.ID, Requested: 2, Available: 1}, byProduct[f.p2.ID])

	assert.Equal(t, 10, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
	assert.Equal(t, 1, dbtest.Quantity(t, f.conn, f.shop.ID, f.p2.ID))
	var movements int64
	require.NoError(t, f.conn.Model(&models.StockMovement{}).Count(&movements).Error)
	assert.Zero(t, movements)
}

func TestDebitMultiAppliesAggregatedLines(t *testing.T) {
	f := newLedgerFixture(t, nil)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 10, 2)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p2.ID, 4, 0)

	var records []models.StockRecord
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		records, err = f.ledger.DebitMulti(context.Background(), tx, f.shop.ID, []Line{
			{ProductID: f.p1.ID, Quantity: 2},
			{ProductID: f.p2.ID, Quantity: 4},
			{ProductID: f.p1.ID, Quantity: 3},
		}, enums.StockMovementSale, nil, nil)
		return err
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 5, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
	assert.Equal(t, 0, dbtest.Quantity(t, f.conn, f.shop.ID, f.p2.ID))
}

func TestConcurrentDebitsNeverOversell(t *testing.T) {
	f := newLedgerFixture(t, nil)
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 10, 0)

	const workers = 25
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		insufficed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.debit(f.p1.ID, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				insufficed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, workers-10, insufficed)
	assert.Equal(t, 0, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
}

func TestSortProductIDs(t *testing.T) {
	ids := []uuid.UUID{
		uuid.MustParse("ffffffff-0000-0000-0000-000000000000"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	}
	SortProductIDs(ids)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", ids[0].String())
	assert.Equal(t, "ffffffff-0000-0000-0000-000000000000", ids[2].String())
}

func TestSortKeys(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	keys := []Key{
		{ShopID: high, ProductID: low},
		{ShopID: low, ProductID: high},
		{ShopID: low, ProductID: low},
	}
	SortKeys(keys)
	assert.Equal(t, []Key{
		{ShopID: low, ProductID: low},
		{ShopID: low, ProductID: high},
		{ShopID: high, ProductID: low},
	}, keys)
}

func (f ledgerFixture) move(from, to uuid.UUID, quantity int) (*models.StockRecord, *models.StockRecord, error) {
	var source, destination *models.StockRecord
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		source, destination, err = f.ledger.Move(context.Background(), tx, Move{
			FromShopID: from,
			ToShopID:   to,
			ProductID:  f.p1.ID,
			Quantity:   quantity,
		})
		return err
	})
	return source, destination, err
}

func TestMoveCarriesStockAndRecordsBothSides(t *testing.T) {
	f := newLedgerFixture(t, nil)
	other := dbtest.MustShop(t, f.conn, "Uptown")
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 9, 2)

	source, destination, err := f.move(f.shop.ID, other.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, source.Quantity)
	assert.Equal(t, 4, destination.Quantity)
	assert.Equal(t, 5, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
	assert.Equal(t, 4, dbtest.Quantity(t, f.conn, other.ID, f.p1.ID))

	out, err := f.ledger.Movements(context.Background(), f.shop.ID, f.p1.ID, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, enums.StockMovementTransferOut, out[0].Reason)
	in, err := f.ledger.Movements(context.Background(), other.ID, f.p1.ID, 10)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, enums.StockMovementTransferIn, in[0].Reason)

	_, _, err = f.move(f.shop.ID, other.ID, 6)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	assert.Equal(t, 5, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
	assert.Equal(t, 4, dbtest.Quantity(t, f.conn, other.ID, f.p1.ID))

	_, _, err = f.move(f.shop.ID, f.shop.ID, 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestMoveLocksRowsInKeyOrder(t *testing.T) {
	f := newLedgerFixture(t, nil)
	other := dbtest.MustShop(t, f.conn, "Uptown")
	dbtest.MustStock(t, f.conn, f.shop.ID, f.p1.ID, 10, 0)
	dbtest.MustStock(t, f.conn, other.ID, f.p1.ID, 10, 0)

	var (
		mu     sync.Mutex
		locked []string
	)
	require.NoError(t, f.conn.Callback().Query().After("gorm:query").Register("test:record_locks", func(tx *gorm.DB) {
		if tx.Statement.Table != "stock_records" {
			return
		}
		if _, ok := tx.Statement.Clauses["FOR"]; !ok || len(tx.Statement.Vars) == 0 {
			return
		}
		mu.Lock()
		locked = append(locked, fmt.Sprint(tx.Statement.Vars[0]))
		mu.Unlock()
	}))

	keys := []Key{{ShopID: f.shop.ID, ProductID: f.p1.ID}, {ShopID: other.ID, ProductID: f.p1.ID}}
	SortKeys(keys)
	want := []string{keys[0].ShopID.String(), keys[1].ShopID.String()}

	for _, dir := range [][2]uuid.UUID{{f.shop.ID, other.ID}, {other.ID, f.shop.ID}} {
		locked = nil
		_, _, err := f.move(dir[0], dir[1], 1)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(locked), 2)
		assert.Equal(t, want, locked[:2], "move %s -> %s", dir[0], dir[1])
	}
	assert.Equal(t, 10, dbtest.Quantity(t, f.conn, f.shop.ID, f.p1.ID))
	assert.Equal(t, 10, dbtest.Quantity(t, f.conn, other.ID, f.p1.ID))
}
