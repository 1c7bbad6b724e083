package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/internal/catalog"
	"github.com/angelmondragon/shopstock-backend/internal/stock"
	"github.com/angelmondragon/shopstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox/payloads"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type stubLister struct {
	records []models.StockRecord
	err     error
}

func (s stubLister) ListLow(context.Context, stock.LowStockFilter) ([]models.StockRecord, error) {
	return s.records, s.err
}

var errBrokerUnavailable = errors.New("broker unavailable")

type failingEmitter struct {
	failFor uuid.UUID
	next    outbox.Emitter
}

func (f failingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if raised, ok := event.Data.(payloads.AlertRaisedEvent); ok && raised.ShopID == f.failFor {
		return errBrokerUnavailable
	}
	return f.next.Emit(ctx, tx, event)
}

type engineFixture struct {
	engine Engine
	conn   *gorm.DB
	shop   models.Shop
	p1     models.Product
	p2     models.Product
	p3     models.Product
}

func newEngineFixture(t *testing.T, lister lowStockLister, wrap func(outbox.Emitter) outbox.Emitter) engineFixture {
	t.Helper()
	client, conn := dbtest.Client(t, "alerts")
	var emitter outbox.Emitter = outbox.NewService(outbox.NewRepository(conn), nil)
	if wrap != nil {
		emitter = wrap(emitter)
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	engine, err := NewEngine(EngineParams{
		DB:         client,
		Repo:       NewRepository(conn),
		Directory:  catalog.NewRepository(conn),
		Outbox:     emitter,
		Stock:      lister,
		MaxRetries: 3,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return engineFixture{
		engine: engine,
		conn:   conn,
		shop:   dbtest.MustShop(t, conn, "Harbor Shop"),
		p1:     dbtest.MustProduct(t, conn, "Green Tea", "4.00"),
		p2:     dbtest.MustProduct(t, conn, "Black Tea", "4.50"),
		p3:     dbtest.MustProduct(t, conn, "Honey", "7.25"),
	}
}

func (f engineFixture) record(productID uuid.UUID, quantity, threshold int) models.StockRecord {
	return models.StockRecord{ID: uuid.New(), ShopID: f.shop.ID, ProductID: productID, Quantity: quantity, MinThreshold: threshold}
}

func countAlerts(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.Alert{}).Count(&n).Error)
	return n
}

func countEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func TestClassify(t *testing.T) {
	cases := []struct {
		quantity, threshold int
		low                 bool
		alertType           enums.AlertType
		severity            enums.AlertSeverity
	}{
		{quantity: 6, threshold: 5, low: false},
		{quantity: 5, threshold: 5, low: true, alertType: enums.AlertTypeLowStock, severity: enums.AlertSeverityMedium},
		{quantity: 4, threshold: 5, low: true, alertType: enums.AlertTypeLowStock, severity: enums.AlertSeverityMedium},
		{quantity: 2, threshold: 5, low: true, alertType: enums.AlertTypeStockoutRisk, severity: enums.AlertSeverityHigh},
		{quantity: 5, threshold: 10, low: true, alertType: enums.AlertTypeStockoutRisk, severity: enums.AlertSeverityHigh},
		{quantity: 0, threshold: 5, low: true, alertType: enums.AlertTypeStockoutRisk, severity: enums.AlertSeverityCritical},
		{quantity: 0, threshold: 0, low: true, alertType: enums.AlertTypeStockoutRisk, severity: enums.AlertSeverityCritical},
	}
	for _, tc := range cases {
		got, low := Classify(models.StockRecord{Quantity: tc.quantity, MinThreshold: tc.threshold})
		if low != tc.low {
			t.Fatalf("qty=%d min=%d: expected low=%v", tc.quantity, tc.threshold, tc.low)
		}
		if !low {
			continue
		}
		if got.Type != tc.alertType || got.Severity != tc.severity {
			t.Fatalf("qty=%d min=%d: expected %s/%s got %s/%s", tc.quantity, tc.threshold, tc.alertType, tc.severity, got.Type, got.Severity)
		}
	}
}

func TestEvaluateAboveThresholdIsNoop(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	alert, err := f.engine.Evaluate(context.Background(), f.record(f.p1.ID, 9, 5))
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Zero(t, countAlerts(t, f.conn))
}

func TestEvaluateCreatesAlertWithCatalogNames(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	alert, err := f.engine.Evaluate(context.Background(), f.record(f.p1.ID, 4, 5))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, enums.AlertTypeLowStock, alert.AlertType)
	assert.Equal(t, enums.AlertSeverityMedium, alert.Severity)
	assert.Equal(t, "Green Tea is below minimum threshold at Harbor Shop (4 units, threshold: 5)", alert.Message)
	assert.False(t, alert.IsRead)
	assert.Equal(t, int64(1), countEvents(t, f.conn, enums.EventAlertRaised))
}

func TestEvaluateFallsBackToIDsForUnknownCatalogEntries(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	productID := uuid.New()
	record := f.record(productID, 0, 3)

	alert, err := f.engine.Evaluate(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, productID.String()+" is out of stock at Harbor Shop", alert.Message)
}

func TestEvaluateTwiceKeepsOneUnreadAlert(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	record := f.record(f.p1.ID, 2, 5)

	first, err := f.engine.Evaluate(context.Background(), record)
	require.NoError(t, err)
	second, err := f.engine.Evaluate(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), countAlerts(t, f.conn))
	assert.Equal(t, int64(1), countEvents(t, f.conn, enums.EventAlertRaised))
}

func TestEvaluateEscalatesToCriticalAndNeverDowngrades(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	medium, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 4, 5))
	require.NoError(t, err)

	critical, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, medium.ID, critical.ID)
	assert.Equal(t, enums.AlertSeverityCritical, critical.Severity)
	assert.Equal(t, enums.AlertTypeStockoutRisk, critical.AlertType)
	assert.Equal(t, "Green Tea is out of stock at Harbor Shop", critical.Message)
	assert.True(t, critical.CreatedAt.After(medium.CreatedAt))

	again, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, medium.ID, again.ID)
	assert.Equal(t, enums.AlertSeverityCritical, again.Severity)
	assert.Equal(t, critical.Message, again.Message)

	var stored models.Alert
	require.NoError(t, f.conn.First(&stored, "id = ?", medium.ID).Error)
	assert.Equal(t, enums.AlertSeverityCritical, stored.Severity)
	assert.Equal(t, int64(1), countAlerts(t, f.conn))
	assert.Equal(t, int64(2), countEvents(t, f.conn, enums.EventAlertRaised))
}

func TestEvaluateHighOpensStockoutRiskBesideMedium(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	medium, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 8, 10))
	require.NoError(t, err)
	assert.Equal(t, enums.AlertTypeLowStock, medium.AlertType)

	high, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 4, 10))
	require.NoError(t, err)
	assert.NotEqual(t, medium.ID, high.ID)
	assert.Equal(t, enums.AlertTypeStockoutRisk, high.AlertType)
	assert.Equal(t, enums.AlertSeverityHigh, high.Severity)

	var stored models.Alert
	require.NoError(t, f.conn.First(&stored, "id = ?", medium.ID).Error)
	assert.Equal(t, enums.AlertSeverityMedium, stored.Severity)
	assert.Equal(t, int64(2), countAlerts(t, f.conn))
	assert.Equal(t, int64(2), countEvents(t, f.conn, enums.EventAlertRaised))

	again, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, high.ID, again.ID)
	assert.Equal(t, int64(2), countAlerts(t, f.conn))
}

func TestEvaluateStockoutEscalatesSameTypeFirst(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	medium, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 8, 10))
	require.NoError(t, err)
	high, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 4, 10))
	require.NoError(t, err)

	critical, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, high.ID, critical.ID)
	assert.Equal(t, enums.AlertSeverityCritical, critical.Severity)

	var stored models.Alert
	require.NoError(t, f.conn.First(&stored, "id = ?", medium.ID).Error)
	assert.Equal(t, enums.AlertTypeLowStock, stored.AlertType)
	assert.Equal(t, enums.AlertSeverityMedium, stored.Severity)
	assert.Equal(t, int64(2), countAlerts(t, f.conn))
}

func TestEvaluateAfterReadOpensNewAlert(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	reader := uuid.New()

	first, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 4, 5))
	require.NoError(t, err)
	_, err = f.engine.MarkRead(ctx, first.ID, reader)
	require.NoError(t, err)

	second, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 4, 5))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(2), countAlerts(t, f.conn))
}

func TestMarkRead(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	reader := uuid.New()

	alert, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 1, 5))
	require.NoError(t, err)

	read, err := f.engine.MarkRead(ctx, alert.ID, reader)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	require.NotNil(t, read.ReadBy)
	assert.Equal(t, reader, *read.ReadBy)
	require.NotNil(t, read.ReadAt)

	again, err := f.engine.MarkRead(ctx, alert.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, reader, *again.ReadBy)

	_, err = f.engine.MarkRead(ctx, uuid.New(), reader)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	_, err = f.engine.MarkRead(ctx, uuid.Nil, reader)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestMarkAllReadAndRetention(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	for _, p := range []models.Product{f.p1, f.p2, f.p3} {
		_, err := f.engine.Evaluate(ctx, f.record(p.ID, 1, 5))
		require.NoError(t, err)
	}

	count, err := f.engine.MarkAllRead(ctx, f.shop.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = f.engine.MarkAllRead(ctx, f.shop.ID, uuid.New())
	require.NoError(t, err)
	assert.Zero(t, count)

	deleted, err := f.engine.DeleteReadBefore(ctx, nil, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.Zero(t, countAlerts(t, f.conn))
}

func TestListFiltersAndPaginates(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 4, 5))
	require.NoError(t, err)
	_, err = f.engine.Evaluate(ctx, f.record(f.p2.ID, 0, 5))
	require.NoError(t, err)
	_, err = f.engine.Evaluate(ctx, f.record(f.p3.ID, 1, 5))
	require.NoError(t, err)

	page, err := f.engine.List(ctx, ListFilter{ShopID: &f.shop.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, f.p3.ID, *page.Items[0].ProductID)
	assert.Equal(t, f.p2.ID, *page.Items[1].ProductID)

	next, err := f.engine.List(ctx, ListFilter{ShopID: &f.shop.ID, Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, f.p1.ID, *next.Items[0].ProductID)
	assert.Empty(t, next.NextCursor)

	critical := enums.AlertSeverityCritical
	filtered, err := f.engine.List(ctx, ListFilter{Severity: &critical})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, f.p2.ID, *filtered.Items[0].ProductID)

	unread := false
	unreadPage, err := f.engine.List(ctx, ListFilter{IsRead: &unread})
	require.NoError(t, err)
	assert.Len(t, unreadPage.Items, 3)

	bad := enums.AlertType("weather")
	_, err = f.engine.List(ctx, ListFilter{Type: &bad})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	_, err = f.engine.List(ctx, ListFilter{Cursor: "not-base64!"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestSweepCountsOutcomes(t *testing.T) {
	lister := &stubLister{}
	f := newEngineFixture(t, lister, nil)
	ctx := context.Background()

	_, err := f.engine.Evaluate(ctx, f.record(f.p1.ID, 4, 5))
	require.NoError(t, err)
	_, err = f.engine.Evaluate(ctx, f.record(f.p3.ID, 4, 5))
	require.NoError(t, err)

	lister.records = []models.StockRecord{
		f.record(f.p1.ID, 4, 5),
		f.record(f.p2.ID, 1, 5),
		f.record(f.p3.ID, 0, 5),
	}
	result, err := f.engine.Sweep(ctx, SweepFilter{})
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Evaluated: 3, Created: 1, Escalated: 1, Deduplicated: 1}, result)
	assert.Equal(t, int64(3), countAlerts(t, f.conn))
}

func TestSweepCollectsFailures(t *testing.T) {
	other := uuid.New()
	lister := &stubLister{}
	f := newEngineFixture(t, lister, func(next outbox.Emitter) outbox.Emitter {
		return failingEmitter{failFor: other, next: next}
	})
	lister.records = []models.StockRecord{
		{ShopID: other, ProductID: f.p1.ID, Quantity: 0, MinThreshold: 2},
		f.record(f.p2.ID, 1, 5),
		{ShopID: other, ProductID: f.p3.ID, Quantity: 1, MinThreshold: 2},
	}
	result, err := f.engine.Sweep(context.Background(), SweepFilter{})
	require.Error(t, err)
	assert.Equal(t, 3, result.Evaluated)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 1, result.Created)
	assert.ErrorIs(t, err, errBrokerUnavailable)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
	assert.Equal(t, int64(1), countAlerts(t, f.conn))
}

func TestSweepRequiresLister(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	_, err := f.engine.Sweep(context.Background(), SweepFilter{})
	require.Error(t, err)

	f = newEngineFixture(t, stubLister{err: errors.New("db down")}, nil)
	_, err = f.engine.Sweep(context.Background(), SweepFilter{})
	require.Error(t, err)
}
