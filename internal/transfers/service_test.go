package transfers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/internal/access"
	"github.com/angelmondragon/shopstock-backend/internal/catalog"
	"github.com/angelmondragon/shopstock-backend/internal/sales"
	"github.com/angelmondragon/shopstock-backend/internal/stock"
	"github.com/angelmondragon/shopstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
)

type recordingEvaluator struct {
	records []models.StockRecord
}

func (r *recordingEvaluator) Evaluate(_ context.Context, record models.StockRecord) (*models.Alert, error) {
	r.records = append(r.records, record)
	return nil, nil
}

type transferFixture struct {
	svc       Service
	sales     sales.Service
	conn      *gorm.DB
	ledger    stock.Ledger
	evaluator *recordingEvaluator
	north     models.Shop
	south     models.Shop
	product   models.Product
	admin     access.Actor
	northRep  access.Actor
	southRep  access.Actor
}

func newTransferFixture(t *testing.T) transferFixture {
	t.Helper()
	client, conn := dbtest.Client(t, "transfers")
	directory := catalog.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	ledger, err := stock.NewLedger(stock.LedgerParams{
		DB:         client,
		Repo:       stock.NewRepository(conn),
		Directory:  directory,
		Outbox:     emitter,
		MaxRetries: 3,
	})
	require.NoError(t, err)

	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	evaluator := &recordingEvaluator{}
	svc, err := NewService(ServiceParams{
		DB:         client,
		Repo:       NewRepository(conn),
		Ledger:     ledger,
		Directory:  directory,
		Authorizer: access.RolePolicy{},
		Outbox:     emitter,
		Evaluator:  evaluator,
		MaxRetries: 3,
		Now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	require.NoError(t, err)

	salesSvc, err := sales.NewService(sales.ServiceParams{
		DB:         client,
		Repo:       sales.NewRepository(conn),
		Ledger:     ledger,
		Directory:  directory,
		Authorizer: access.RolePolicy{},
		Outbox:     emitter,
		MaxRetries: 3,
	})
	require.NoError(t, err)

	north := dbtest.MustShop(t, conn, "North")
	south := dbtest.MustShop(t, conn, "South")
	northID, southID := north.ID, south.ID
	return transferFixture{
		svc:       svc,
		sales:     salesSvc,
		conn:      conn,
		ledger:    ledger,
		evaluator: evaluator,
		north:     north,
		south:     south,
		product:   dbtest.MustProduct(t, conn, "Lamp Oil", "6.00"),
		admin:     access.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
		northRep:  access.Actor{UserID: uuid.New(), Role: enums.ActorRoleSalesManager, ShopID: &northID},
		southRep:  access.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff, ShopID: &southID},
	}
}

func (f transferFixture) request(t *testing.T, quantity int) *models.StockTransfer {
	t.Helper()
	transfer, err := f.svc.Request(context.Background(), f.northRep, RequestInput{
		FromShopID: f.north.ID,
		ToShopID:   f.south.ID,
		ProductID:  f.product.ID,
		Quantity:   quantity,
	})
	require.NoError(t, err)
	return transfer
}

func assertInvalidTransition(t *testing.T, err error, current enums.TransferStatus) {
	t.Helper()
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidStateTransition), "got %v", err)
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(current), details["current_status"])
}

func TestTransferHappyPathMovesStock(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 20, 5)
	ctx := context.Background()

	transfer := f.request(t, 8)
	assert.Equal(t, enums.TransferStatusPending, transfer.Status)
	assert.Equal(t, f.northRep.UserID, transfer.RequestedBy)

	approved, err := f.svc.Approve(ctx, f.admin, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, f.admin.UserID, *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	completed, err := f.svc.Complete(ctx, f.admin, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	assert.Equal(t, 12, dbtest.Quantity(t, f.conn, f.north.ID, f.product.ID))
	assert.Equal(t, 8, dbtest.Quantity(t, f.conn, f.south.ID, f.product.ID))

	require.Len(t, f.evaluator.records, 1)
	assert.Equal(t, f.north.ID, f.evaluator.records[0].ShopID)
	assert.Equal(t, 12, f.evaluator.records[0].Quantity)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventTransferStatusChanged, transfer.ID).
		Count(&events).Error)
	assert.Equal(t, int64(3), events)

	var movements []models.StockMovement
	require.NoError(t, f.conn.Where("reference_id = ?", transfer.ID).Order("quantity_delta").Find(&movements).Error)
	require.Len(t, movements, 2)
	assert.Equal(t, enums.StockMovementTransferOut, movements[0].Reason)
	assert.Equal(t, -8, movements[0].QuantityDelta)
	assert.Equal(t, enums.StockMovementTransferIn, movements[1].Reason)
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 20, 5)
	ctx := context.Background()

	transfer := f.request(t, 2)
	_, err := f.svc.Complete(ctx, f.admin, transfer.ID)
	assertInvalidTransition(t, err, enums.TransferStatusPending)

	_, err = f.svc.Approve(ctx, f.admin, transfer.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.admin, transfer.ID)
	assertInvalidTransition(t, err, enums.TransferStatusApproved)
	_, err = f.svc.Reject(ctx, f.admin, transfer.ID)
	assertInvalidTransition(t, err, enums.TransferStatusApproved)
	_, err = f.svc.Cancel(ctx, f.northRep, transfer.ID)
	assertInvalidTransition(t, err, enums.TransferStatusApproved)

	_, err = f.svc.Complete(ctx, f.admin, transfer.ID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, f.admin, transfer.ID)
	assertInvalidTransition(t, err, enums.TransferStatusCompleted)
	assert.Equal(t, 18, dbtest.Quantity(t, f.conn, f.north.ID, f.product.ID))

	_, err = f.svc.Approve(ctx, f.admin, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestRejectAndCancel(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 20, 5)
	ctx := context.Background()

	rejected, err := f.svc.Reject(ctx, f.admin, f.request(t, 1).ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ApprovedBy)
	assert.Equal(t, f.admin.UserID, *rejected.ApprovedBy)

	pending := f.request(t, 1)
	_, err = f.svc.Cancel(ctx, f.southRep, pending.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	cancelled, err := f.svc.Cancel(ctx, f.northRep, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusCancelled, cancelled.Status)

	byAdmin, err := f.svc.Cancel(ctx, f.admin, f.request(t, 1).ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusCancelled, byAdmin.Status)

	assert.Equal(t, 20, dbtest.Quantity(t, f.conn, f.north.ID, f.product.ID))
}

func TestReviewRequiresManager(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 20, 5)
	ctx := context.Background()
	transfer := f.request(t, 3)

	_, err := f.svc.Approve(ctx, f.northRep, transfer.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
	_, err = f.svc.Reject(ctx, f.southRep, transfer.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
	_, err = f.svc.Complete(ctx, f.northRep, transfer.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	got, err := f.svc.Get(ctx, f.admin, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusPending, got.Status)
}

func TestCompleteAfterDepletionKeepsTransferApproved(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 10, 2)
	ctx := context.Background()

	transfer := f.request(t, 8)
	_, err := f.svc.Approve(ctx, f.admin, transfer.ID)
	require.NoError(t, err)

	err = f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.ledger.Debit(ctx, tx, stock.Mutation{
			ShopID:    f.north.ID,
			ProductID: f.product.ID,
			Quantity:  5,
			Reason:    enums.StockMovementSale,
		})
		return err
	})
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, f.admin, transfer.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	assert.Equal(t, []stock.Shortfall{{ProductID: f.product.ID, Requested: 8, Available: 5}}, stock.Shortfalls(err))

	got, err := f.svc.Get(ctx, f.admin, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusApproved, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 5, dbtest.Quantity(t, f.conn, f.north.ID, f.product.ID))

	var destination int64
	require.NoError(t, f.conn.Model(&models.StockRecord{}).Where("shop_id = ?", f.south.ID).Count(&destination).Error)
	assert.Zero(t, destination)
	assert.Empty(t, f.evaluator.records)
}

func TestRequestValidation(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 4, 1)
	ctx := context.Background()
	northID := f.north.ID
	northClerk := access.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff, ShopID: &northID}

	cases := []struct {
		name  string
		actor access.Actor
		input RequestInput
		code  pkgerrors.Code
	}{
		{name: "zero quantity", actor: f.admin, input: RequestInput{FromShopID: f.north.ID, ToShopID: f.south.ID, ProductID: f.product.ID}, code: pkgerrors.CodeValidation},
		{name: "same shop", actor: f.admin, input: RequestInput{FromShopID: f.north.ID, ToShopID: f.north.ID, ProductID: f.product.ID, Quantity: 1}, code: pkgerrors.CodeValidation},
		{name: "missing product", actor: f.admin, input: RequestInput{FromShopID: f.north.ID, ToShopID: f.south.ID, Quantity: 1}, code: pkgerrors.CodeValidation},
		{name: "staff at source", actor: northClerk, input: RequestInput{FromShopID: f.north.ID, ToShopID: f.south.ID, ProductID: f.product.ID, Quantity: 1}, code: pkgerrors.CodeForbidden},
		{name: "foreign source", actor: f.southRep, input: RequestInput{FromShopID: f.north.ID, ToShopID: f.south.ID, ProductID: f.product.ID, Quantity: 1}, code: pkgerrors.CodeForbidden},
		{name: "unknown destination", actor: f.admin, input: RequestInput{FromShopID: f.north.ID, ToShopID: uuid.New(), ProductID: f.product.ID, Quantity: 1}, code: pkgerrors.CodeNotFound},
		{name: "unknown product", actor: f.admin, input: RequestInput{FromShopID: f.north.ID, ToShopID: f.south.ID, ProductID: uuid.New(), Quantity: 1}, code: pkgerrors.CodeNotFound},
		{name: "more than on hand", actor: f.admin, input: RequestInput{FromShopID: f.north.ID, ToShopID: f.south.ID, ProductID: f.product.ID, Quantity: 5}, code: pkgerrors.CodeInsufficientStock},
		{name: "no source record", actor: f.admin, input: RequestInput{FromShopID: f.south.ID, ToShopID: f.north.ID, ProductID: f.product.ID, Quantity: 1}, code: pkgerrors.CodeInsufficientStock},
	}
	for _, tc := range cases {
		_, err := f.svc.Request(ctx, tc.actor, tc.input)
		if !pkgerrors.IsCode(err, tc.code) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}

	var n int64
	require.NoError(t, f.conn.Model(&models.StockTransfer{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestListScopesNonManagersToTheirShop(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 20, 5)
	third := dbtest.MustShop(t, f.conn, "West")
	dbtest.MustStock(t, f.conn, third.ID, f.product.ID, 20, 5)
	ctx := context.Background()

	first := f.request(t, 1)
	second := f.request(t, 2)
	_, err := f.svc.Request(ctx, f.admin, RequestInput{FromShopID: third.ID, ToShopID: f.north.ID, ProductID: f.product.ID, Quantity: 3})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.admin, first.ID)
	require.NoError(t, err)

	all, err := f.svc.List(ctx, f.admin, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 3)

	southView, err := f.svc.List(ctx, f.southRep, ListFilter{})
	require.NoError(t, err)
	require.Len(t, southView.Items, 2)
	assert.Equal(t, second.ID, southView.Items[0].ID)

	approved := enums.TransferStatusApproved
	filtered, err := f.svc.List(ctx, f.southRep, ListFilter{Status: &approved})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, first.ID, filtered.Items[0].ID)

	paged, err := f.svc.List(ctx, f.northRep, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, paged.Items, 2)
	require.NotEmpty(t, paged.NextCursor)
	rest, err := f.svc.List(ctx, f.northRep, ListFilter{Limit: 2, Cursor: paged.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Equal(t, first.ID, rest.Items[0].ID)

	_, err = f.svc.List(ctx, f.southRep, ListFilter{ShopID: &third.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	westRep := access.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff, ShopID: &third.ID}
	_, err = f.svc.Get(ctx, westRep, first.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
	got, err := f.svc.Get(ctx, f.southRep, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func (f transferFixture) approved(t *testing.T, actor access.Actor, from, to uuid.UUID, quantity int) *models.StockTransfer {
	t.Helper()
	transfer, err := f.svc.Request(context.Background(), actor, RequestInput{
		FromShopID: from,
		ToShopID:   to,
		ProductID:  f.product.ID,
		Quantity:   quantity,
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), f.admin, transfer.ID)
	require.NoError(t, err)
	return transfer
}

func TestConcurrentCompletesAndSaleNeverOversell(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 10, 2)
	ctx := context.Background()
	northID := f.north.ID
	clerk := access.Actor{UserID: uuid.New(), Role: enums.ActorRoleStaff, ShopID: &northID}

	first := f.approved(t, f.northRep, f.north.ID, f.south.ID, 4)
	second := f.approved(t, f.northRep, f.north.ID, f.south.ID, 4)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		insufficed int
		completed  int
	)
	outcome := func(err error, transfer bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			succeeded++
			if transfer {
				completed++
			}
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
			insufficed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Complete(ctx, f.admin, id)
			outcome(err, true)
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.sales.RecordSale(ctx, clerk, sales.RecordSaleInput{
			ShopID: f.north.ID,
			Lines:  []sales.LineInput{{ProductID: f.product.ID, Quantity: 4, UnitPrice: decimal.RequireFromString("6.00")}},
		})
		outcome(err, false)
	}()
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 1, insufficed)
	north := dbtest.Quantity(t, f.conn, f.north.ID, f.product.ID)
	assert.Equal(t, 2, north)
	assert.GreaterOrEqual(t, north, 0)

	var south int64
	require.NoError(t, f.conn.Model(&models.StockRecord{}).
		Where("shop_id = ? AND product_id = ?", f.south.ID, f.product.ID).
		Select("COALESCE(SUM(quantity), 0)").Scan(&south).Error)
	assert.Equal(t, int64(4*completed), south)

	var done int64
	require.NoError(t, f.conn.Model(&models.StockTransfer{}).Where("status = ?", enums.TransferStatusCompleted).Count(&done).Error)
	assert.Equal(t, int64(completed), done)
}

func TestOpposingCompletionsBothSucceed(t *testing.T) {
	f := newTransferFixture(t)
	dbtest.MustStock(t, f.conn, f.north.ID, f.product.ID, 10, 2)
	dbtest.MustStock(t, f.conn, f.south.ID, f.product.ID, 10, 2)
	ctx := context.Background()

	outbound := f.approved(t, f.northRep, f.north.ID, f.south.ID, 3)
	inbound := f.approved(t, f.admin, f.south.ID, f.north.ID, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{outbound.ID, inbound.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Complete(ctx, f.admin, id)
		}(i, id)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 12, dbtest.Quantity(t, f.conn, f.north.ID, f.product.ID))
	assert.Equal(t, 8, dbtest.Quantity(t, f.conn, f.south.ID, f.product.ID))
}
