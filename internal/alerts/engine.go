package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/internal/catalog"
	"github.com/angelmondragon/shopstock-backend/internal/stock"
	"github.com/angelmondragon/shopstock-backend/pkg/db"
	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
	"github.com/angelmondragon/shopstock-backend/pkg/logger"
	"github.com/angelmondragon/shopstock-backend/pkg/metrics"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopstock-backend/pkg/pagination"
)

// Engine raises, deduplicates and escalates stock alerts and serves the alert inbox.
type Engine interface {
	Evaluate(ctx context.Context, record models.StockRecord) (*models.Alert, error)
	Sweep(ctx context.Context, filter SweepFilter) (SweepResult, error)
	List(ctx context.Context, filter ListFilter) (pagination.Page[models.Alert], error)
	MarkRead(ctx context.Context, alertID, readerID uuid.UUID) (*models.Alert, error)
	MarkAllRead(ctx context.Context, shopID, readerID uuid.UUID) (int64, error)
	DeleteReadBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// ListFilter narrows List; nil fields are ignored.
type ListFilter struct {
	ShopID    *uuid.UUID
	ProductID *uuid.UUID
	Type      *enums.AlertType
	Severity  *enums.AlertSeverity
	IsRead    *bool
	Limit     int
	Cursor    string
}

// SweepFilter narrows Sweep to one shop or product.
type SweepFilter struct {
	ShopID    *uuid.UUID
	ProductID *uuid.UUID
}

// SweepResult counts the outcomes of one sweep.
type SweepResult struct {
	Evaluated    int
	Created      int
	Escalated    int
	Deduplicated int
	Failed       int
}

type lowStockLister interface {
	ListLow(ctx context.Context, filter stock.LowStockFilter) ([]models.StockRecord, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EngineParams wires an Engine. Stock is only needed by Sweep.
type EngineParams struct {
	DB         txRunner
	Repo       *Repository
	Directory  catalog.Directory
	Outbox     outbox.Emitter
	Stock      lowStockLister
	Logger     *logger.Logger
	Metrics    *metrics.InventoryMetrics
	MaxRetries int
	Now        func() time.Time
}

type engine struct {
	db         txRunner
	repo       *Repository
	directory  catalog.Directory
	outbox     outbox.Emitter
	stock      lowStockLister
	logg       *logger.Logger
	metrics    *metrics.InventoryMetrics
	maxRetries int
	now        func() time.Time
}

func NewEngine(params EngineParams) (Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("alert repository required")
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
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &engine{
		db:         params.DB,
		repo:       params.Repo,
		directory:  params.Directory,
		outbox:     params.Outbox,
		stock:      params.Stock,
		logg:       logg,
		metrics:    params.Metrics,
		maxRetries: params.MaxRetries,
		now:        now,
	}, nil
}

// Evaluate checks one record against its threshold. It returns nil when the
// record is not low. Otherwise it returns the alert occupying the record's
// unread slot: newly created, escalated to critical, or unchanged.
func (e *engine) Evaluate(ctx context.Context, record models.StockRecord) (*models.Alert, error) {
	alert, _, err := e.evaluate(ctx, record)
	return alert, err
}

func (e *engine) evaluate(ctx context.Context, record models.StockRecord) (*models.Alert, string, error) {
	classification, low := Classify(record)
	if !low {
		e.metrics.AlertEvaluated(metrics.AlertOutcomeSkipped, "")
		return nil, metrics.AlertOutcomeSkipped, nil
	}
	msg := message(classification, e.productName(ctx, record.ProductID), e.shopName(ctx, record.ShopID), record)

	var (
		result  *models.Alert
		outcome string
	)
	err := db.WithConflictRetry(ctx, e.maxRetries, func() error {
		return e.db.WithTx(ctx, func(tx *gorm.DB) error {
			alert, out, err := e.upsert(ctx, tx, record, classification, msg)
			if err != nil {
				return err
			}
			result, outcome = alert, out
			return nil
		})
	})
	if err != nil {
		return nil, "", err
	}

	e.metrics.AlertEvaluated(outcome, string(result.Severity))
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"alert_id":   result.ID.String(),
		"shop_id":    record.ShopID.String(),
		"product_id": record.ProductID.String(),
		"severity":   result.Severity,
		"outcome":    outcome,
	})
	if outcome == metrics.AlertOutcomeDeduplicated {
		e.logg.Debug(logCtx, "stock alert already open")
	} else {
		e.logg.Info(logCtx, "stock alert raised")
	}
	return result, outcome, nil
}

func (e *engine) upsert(ctx context.Context, tx *gorm.DB, record models.StockRecord, c Classification, msg string) (*models.Alert, string, error) {
	repo := e.repo.WithTx(tx)
	existing, err := repo.FindUnreadAlert(ctx, record.ShopID, record.ProductID, c.Type)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open alert")
	}
	if existing != nil {
		if c.Severity != enums.AlertSeverityCritical || existing.Severity == enums.AlertSeverityCritical {
			return existing, metrics.AlertOutcomeDeduplicated, nil
		}
		return e.escalate(ctx, tx, repo, existing, record, c, msg)
	}

	// A stockout folds the open lower-severity alert for the pair into itself.
	if c.Severity == enums.AlertSeverityCritical {
		lower, err := repo.FindEscalatableStockAlert(ctx, record.ShopID, record.ProductID)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open alert")
		}
		if lower != nil {
			return e.escalate(ctx, tx, repo, lower, record, c, msg)
		}
	}

	productID := record.ProductID
	alert := &models.Alert{
		ShopID:    record.ShopID,
		ProductID: &productID,
		AlertType: c.Type,
		Severity:  c.Severity,
		Message:   msg,
		CreatedAt: e.now(),
	}
	if err := repo.Create(ctx, alert); err != nil {
		if db.IsUniqueViolation(err, "") {
			// Another evaluation filled the slot first; the retry reads it.
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "open alert created concurrently")
		}
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create alert")
	}
	if err := e.emit(ctx, tx, alert, record, false); err != nil {
		return nil, "", err
	}
	return alert, metrics.AlertOutcomeCreated, nil
}

func (e *engine) escalate(ctx context.Context, tx *gorm.DB, repo *Repository, alert *models.Alert, record models.StockRecord, c Classification, msg string) (*models.Alert, string, error) {
	alert.AlertType = c.Type
	alert.Severity = c.Severity
	alert.Message = msg
	alert.CreatedAt = e.now()
	if err := repo.Escalate(ctx, alert); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "open alert escalated concurrently")
		}
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "escalate alert")
	}
	if err := e.emit(ctx, tx, alert, record, true); err != nil {
		return nil, "", err
	}
	return alert, metrics.AlertOutcomeEscalated, nil
}

func (e *engine) emit(ctx context.Context, tx *gorm.DB, alert *models.Alert, record models.StockRecord, escalated bool) error {
	err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAlertRaised,
		AggregateType: enums.AggregateAlert,
		AggregateID:   alert.ID,
		Data: payloads.AlertRaisedEvent{
			AlertID:      alert.ID,
			ShopID:       alert.ShopID,
			ProductID:    alert.ProductID,
			AlertType:    alert.AlertType,
			Severity:     alert.Severity,
			Message:      alert.Message,
			Escalated:    escalated,
			Quantity:     record.Quantity,
			MinThreshold: record.MinThreshold,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit alert raised event")
	}
	return nil
}

func (e *engine) productName(ctx context.Context, id uuid.UUID) string {
	if ref, err := e.directory.Product(ctx, id); err == nil && ref.Name != "" {
		return ref.Name
	}
	return id.String()
}

func (e *engine) shopName(ctx context.Context, id uuid.UUID) string {
	if ref, err := e.directory.Shop(ctx, id); err == nil && ref.Name != "" {
		return ref.Name
	}
	return id.String()
}

// Sweep evaluates every low record matching filter. Failures are collected
// and returned together after all records were tried.
func (e *engine) Sweep(ctx context.Context, filter SweepFilter) (SweepResult, error) {
	var result SweepResult
	if e.stock == nil {
		return result, fmt.Errorf("sweep requires a stock lister")
	}
	records, err := e.stock.ListLow(ctx, stock.LowStockFilter{ShopID: filter.ShopID, ProductID: filter.ProductID})
	if err != nil {
		return result, err
	}

	var errs error
	for _, record := range records {
		if ctx.Err() != nil {
			return result, multierr.Append(errs, ctx.Err())
		}
		result.Evaluated++
		_, outcome, err := e.evaluate(ctx, record)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("evaluate %s/%s: %w", record.ShopID, record.ProductID, err))
			continue
		}
		switch outcome {
		case metrics.AlertOutcomeCreated:
			result.Created++
		case metrics.AlertOutcomeEscalated:
			result.Escalated++
		case metrics.AlertOutcomeDeduplicated:
			result.Deduplicated++
		}
	}
	return result, errs
}

func (e *engine) List(ctx context.Context, filter ListFilter) (pagination.Page[models.Alert], error) {
	var page pagination.Page[models.Alert]
	if filter.Type != nil && !filter.Type.IsValid() {
		return page, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid alert type %q", *filter.Type)
	}
	if filter.Severity != nil && !filter.Severity.IsValid() {
		return page, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid alert severity %q", *filter.Severity)
	}
	cursor, err := pagination.ParseCursor(filter.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := e.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(filter.Limit))
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list alerts")
	}
	return pagination.Build(rows, filter.Limit, func(a models.Alert) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	}), nil
}

// MarkRead is idempotent: marking an already-read alert returns it unchanged.
func (e *engine) MarkRead(ctx context.Context, alertID, readerID uuid.UUID) (*models.Alert, error) {
	if alertID == uuid.Nil || readerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "alert id and reader id are required")
	}
	if _, err := e.repo.MarkRead(ctx, alertID, readerID, e.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark alert read")
	}
	alert, err := e.repo.FindByID(ctx, alertID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load alert")
	}
	if alert == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "alert %s not found", alertID)
	}
	return alert, nil
}

func (e *engine) MarkAllRead(ctx context.Context, shopID, readerID uuid.UUID) (int64, error) {
	if shopID == uuid.Nil || readerID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "shop id and reader id are required")
	}
	count, err := e.repo.MarkAllRead(ctx, shopID, readerID, e.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark alerts read")
	}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{"shop_id": shopID.String(), "count": count}), "alerts marked read")
	return count, nil
}

func (e *engine) DeleteReadBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	repo := e.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	return repo.DeleteReadBefore(ctx, cutoff)
}
