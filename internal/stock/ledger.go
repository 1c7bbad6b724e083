package stock

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/internal/catalog"
	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
	"github.com/angelmondragon/shopstock-backend/pkg/logger"
	"github.com/angelmondragon/shopstock-backend/pkg/metrics"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
)

const (
	defaultMovementLimit = 50
	maxMovementLimit     = 500
)

// Mutation is a single-key stock change. Reason, ReferenceID and ActorID are
// copied onto the movement audit row.
type Mutation struct {
	ShopID      uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
	Reason      enums.StockMovementReason
	ReferenceID *uuid.UUID
	ActorID     *uuid.UUID
}

// Move is one product carried from one shop to another. The source gets a
// transfer_out movement and the destination a transfer_in movement.
type Move struct {
	FromShopID  uuid.UUID
	ToShopID    uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
	ReferenceID *uuid.UUID
	ActorID     *uuid.UUID
}

// Key identifies one stock record.
type Key struct {
	ShopID    uuid.UUID
	ProductID uuid.UUID
}

// Line is one product/quantity pair of a multi-key debit.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// LowStockFilter narrows ListLow.
type LowStockFilter struct {
	ShopID    *uuid.UUID
	ProductID *uuid.UUID
}

// Ledger owns every stock record. Debit, Credit and DebitMulti run on the
// caller's transaction so they commit or roll back with the caller's writes.
type Ledger interface {
	Get(ctx context.Context, shopID, productID uuid.UUID) (*models.StockRecord, error)
	Debit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.StockRecord, error)
	Credit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.StockRecord, error)
	DebitMulti(ctx context.Context, tx *gorm.DB, shopID uuid.UUID, lines []Line, reason enums.StockMovementReason, referenceID, actorID *uuid.UUID) ([]models.StockRecord, error)
	Move(ctx context.Context, tx *gorm.DB, mv Move) (source, destination *models.StockRecord, err error)
	Configure(ctx context.Context, actorID uuid.UUID, input ConfigureInput) (*models.StockRecord, error)
	ListLow(ctx context.Context, filter LowStockFilter) ([]models.StockRecord, error)
	Movements(ctx context.Context, shopID, productID uuid.UUID, limit int) ([]models.StockMovement, error)
}

// AlertEvaluator is run after a committed adjustment.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, record models.StockRecord) (*models.Alert, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LedgerParams wires a ledger. Evaluator, Logger and Metrics are optional.
type LedgerParams struct {
	DB         txRunner
	Repo       *Repository
	Directory  catalog.Directory
	Outbox     outbox.Emitter
	Evaluator  AlertEvaluator
	Logger     *logger.Logger
	Metrics    *metrics.InventoryMetrics
	MaxRetries int
}

type ledger struct {
	db         txRunner
	repo       *Repository
	directory  catalog.Directory
	outbox     outbox.Emitter
	evaluator  AlertEvaluator
	logg       *logger.Logger
	metrics    *metrics.InventoryMetrics
	maxRetries int
}

func NewLedger(params LedgerParams) (Ledger, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("catalog directory required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &ledger{
		db:         params.DB,
		repo:       params.Repo,
		directory:  params.Directory,
		outbox:     params.Outbox,
		evaluator:  params.Evaluator,
		logg:       logg,
		metrics:    params.Metrics,
		maxRetries: params.MaxRetries,
	}, nil
}

func (l *ledger) Get(ctx context.Context, shopID, productID uuid.UUID) (*models.StockRecord, error) {
	record, err := l.repo.Find(ctx, shopID, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	if record == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "no stock record for product %s at shop %s", productID, shopID)
	}
	return record, nil
}

func (l *ledger) Debit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.StockRecord, error) {
	if err := validateMutation(m); err != nil {
		return nil, err
	}
	repo := l.repo.WithTx(tx)
	record, err := repo.FindForUpdate(ctx, m.ShopID, m.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock record")
	}
	available := 0
	if record != nil {
		available = record.Quantity
	}
	if record == nil || available < m.Quantity {
		l.metrics.Rejected("debit", string(pkgerrors.CodeInsufficientStock))
		return nil, InsufficientStockError([]Shortfall{{ProductID: m.ProductID, Requested: m.Quantity, Available: available}})
	}
	if err := l.applyDebit(ctx, repo, record, m.Quantity, m.Reason, m.ReferenceID, m.ActorID); err != nil {
		return nil, err
	}
	return record, nil
}

func (l *ledger) Credit(ctx context.Context, tx *gorm.DB, m Mutation) (*models.StockRecord, error) {
	if err := validateMutation(m); err != nil {
		return nil, err
	}
	repo := l.repo.WithTx(tx)
	if err := repo.InsertIfAbsent(ctx, m.ShopID, m.ProductID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock record")
	}
	record, err := repo.FindForUpdate(ctx, m.ShopID, m.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock record")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "stock record vanished during credit")
	}
	affected, err := repo.Increment(ctx, m.ShopID, m.ProductID, m.Quantity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit stock")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "stock record changed during credit")
	}
	before := record.Quantity
	record.Quantity += m.Quantity
	if err := repo.InsertMovement(ctx, &models.StockMovement{
		ShopID:         m.ShopID,
		ProductID:      m.ProductID,
		Reason:         m.Reason,
		QuantityDelta:  m.Quantity,
		QuantityBefore: before,
		QuantityAfter:  record.Quantity,
		ReferenceID:    m.ReferenceID,
		ActorID:        m.ActorID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock movement")
	}
	return record, nil
}

// Move debits the source and credits the destination as a unit. Both rows are
// locked in key order before either is written, so moves in opposite
// directions cannot deadlock. A missing destination record is created.
func (l *ledger) Move(ctx context.Context, tx *gorm.DB, mv Move) (*models.StockRecord, *models.StockRecord, error) {
	out := Mutation{
		ShopID:      mv.FromShopID,
		ProductID:   mv.ProductID,
		Quantity:    mv.Quantity,
		Reason:      enums.StockMovementTransferOut,
		ReferenceID: mv.ReferenceID,
		ActorID:     mv.ActorID,
	}
	if err := validateMutation(out); err != nil {
		return nil, nil, err
	}
	if mv.ToShopID == uuid.Nil || mv.ToShopID == mv.FromShopID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "destination shop must be set and differ from the source")
	}
	in := out
	in.ShopID = mv.ToShopID
	in.Reason = enums.StockMovementTransferIn

	repo := l.repo.WithTx(tx)
	if err := repo.InsertIfAbsent(ctx, in.ShopID, in.ProductID); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock record")
	}
	keys := []Key{{ShopID: out.ShopID, ProductID: out.ProductID}, {ShopID: in.ShopID, ProductID: in.ProductID}}
	SortKeys(keys)
	for _, key := range keys {
		if _, err := repo.FindForUpdate(ctx, key.ShopID, key.ProductID); err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock record")
		}
	}

	source, err := l.Debit(ctx, tx, out)
	if err != nil {
		return nil, nil, err
	}
	destination, err := l.Credit(ctx, tx, in)
	if err != nil {
		return nil, nil, err
	}
	return source, destination, nil
}

// DebitMulti debits several products of one shop as a unit. Repeated products
// are summed before checking; rows are locked in product order so concurrent
// multi-debits cannot deadlock. Every shortfall is reported and nothing is
// written when any key falls short.
func (l *ledger) DebitMulti(ctx context.Context, tx *gorm.DB, shopID uuid.UUID, lines []Line, reason enums.StockMovementReason, referenceID, actorID *uuid.UUID) ([]models.StockRecord, error) {
	if shopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if !reason.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid movement reason %q", reason)
	}
	requested, order, err := aggregateLines(lines)
	if err != nil {
		return nil, err
	}

	repo := l.repo.WithTx(tx)
	records := make([]*models.StockRecord, 0, len(order))
	var shortfalls []Shortfall
	for _, productID := range order {
		record, err := repo.FindForUpdate(ctx, shopID, productID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock record")
		}
		available := 0
		if record != nil {
			available = record.Quantity
		}
		if available < requested[productID] {
			shortfalls = append(shortfalls, Shortfall{ProductID: productID, Requested: requested[productID], Available: available})
			continue
		}
		records = append(records, record)
	}
	if len(shortfalls) > 0 {
		l.metrics.Rejected("debit_multi", string(pkgerrors.CodeInsufficientStock))
		return nil, InsufficientStockError(shortfalls)
	}

	out := make([]models.StockRecord, 0, len(records))
	for _, record := range records {
		if err := l.applyDebit(ctx, repo, record, requested[record.ProductID], reason, referenceID, actorID); err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	return out, nil
}

func (l *ledger) applyDebit(ctx context.Context, repo *Repository, record *models.StockRecord, quantity int, reason enums.StockMovementReason, referenceID, actorID *uuid.UUID) error {
	affected, err := repo.ConditionalDebit(ctx, record.ShopID, record.ProductID, quantity)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit stock")
	}
	if affected == 0 {
		l.metrics.Rejected("debit", string(pkgerrors.CodeConcurrencyConflict))
		return pkgerrors.Newf(pkgerrors.CodeConcurrencyConflict, "stock for product %s changed during debit", record.ProductID)
	}
	before := record.Quantity
	record.Quantity -= quantity
	if err := repo.InsertMovement(ctx, &models.StockMovement{
		ShopID:         record.ShopID,
		ProductID:      record.ProductID,
		Reason:         reason,
		QuantityDelta:  -quantity,
		QuantityBefore: before,
		QuantityAfter:  record.Quantity,
		ReferenceID:    referenceID,
		ActorID:        actorID,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock movement")
	}
	return nil
}

func (l *ledger) ListLow(ctx context.Context, filter LowStockFilter) ([]models.StockRecord, error) {
	records, err := l.repo.ListLow(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list low stock")
	}
	return records, nil
}

func (l *ledger) Movements(ctx context.Context, shopID, productID uuid.UUID, limit int) ([]models.StockMovement, error) {
	if limit <= 0 {
		limit = defaultMovementLimit
	}
	if limit > maxMovementLimit {
		limit = maxMovementLimit
	}
	rows, err := l.repo.ListMovements(ctx, shopID, productID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock movements")
	}
	return rows, nil
}

func validateMutation(m Mutation) error {
	if m.ShopID == uuid.Nil || m.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop id and product id are required")
	}
	if m.Quantity < 1 {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "quantity must be at least 1, got %d", m.Quantity)
	}
	if !m.Reason.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid movement reason %q", m.Reason)
	}
	return nil
}

// aggregateLines sums quantities per product and returns the products in lock order.
func aggregateLines(lines []Line) (map[uuid.UUID]int, []uuid.UUID, error) {
	if len(lines) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	totals := make(map[uuid.UUID]int, len(lines))
	order := make([]uuid.UUID, 0, len(lines))
	for i, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "line %d: product id is required", i)
		}
		if line.Quantity < 1 {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "line %d: quantity must be at least 1", i)
		}
		if _, seen := totals[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		totals[line.ProductID] += line.Quantity
	}
	SortProductIDs(order)
	return totals, order, nil
}

// SortKeys orders keys by shop, then product. Move acquires row locks in this
// order.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if c := bytes.Compare(keys[i].ShopID[:], keys[j].ShopID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(keys[i].ProductID[:], keys[j].ProductID[:]) < 0
	})
}

// SortProductIDs orders ids the way DebitMulti acquires row locks.
func SortProductIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
