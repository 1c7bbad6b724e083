package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/internal/access"
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
	"github.com/angelmondragon/shopstock-backend/pkg/validate"
)

// Service records point-of-sale transactions against shop stock.
type Service interface {
	RecordSale(ctx context.Context, actor access.Actor, input RecordSaleInput) (*SaleResult, error)
	Get(ctx context.Context, actor access.Actor, saleID uuid.UUID) (*SaleResult, error)
	ListByShop(ctx context.Context, actor access.Actor, shopID uuid.UUID, params ListParams) (pagination.Page[SaleResult], error)
}

// AlertEvaluator is run once per debited record after the sale commits.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, record models.StockRecord) (*models.Alert, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires a sales service. Evaluator, Logger and Metrics are optional.
type ServiceParams struct {
	DB         txRunner
	Repo       *Repository
	Ledger     stock.Ledger
	Directory  catalog.Directory
	Authorizer access.Authorizer
	Outbox     outbox.Emitter
	Evaluator  AlertEvaluator
	Logger     *logger.Logger
	Metrics    *metrics.InventoryMetrics
	MaxRetries int
	Now        func() time.Time
}

type service struct {
	db         txRunner
	repo       *Repository
	ledger     stock.Ledger
	directory  catalog.Directory
	authz      access.Authorizer
	outbox     outbox.Emitter
	evaluator  AlertEvaluator
	logg       *logger.Logger
	metrics    *metrics.InventoryMetrics
	maxRetries int
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("sales repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("catalog directory required")
	}
	if params.Authorizer == nil {
		return nil, fmt.Errorf("authorizer required")
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
	return &service{
		db:         params.DB,
		repo:       params.Repo,
		ledger:     params.Ledger,
		directory:  params.Directory,
		authz:      params.Authorizer,
		outbox:     params.Outbox,
		evaluator:  params.Evaluator,
		logg:       logg,
		metrics:    params.Metrics,
		maxRetries: params.MaxRetries,
		now:        now,
	}, nil
}

// RecordSale validates, authorizes and commits a sale. The header, its lines,
// every stock debit and the sale_recorded event commit together or not at all.
// Alerts are evaluated after the commit and never fail the sale.
func (s *service) RecordSale(ctx context.Context, actor access.Actor, input RecordSaleInput) (*SaleResult, error) {
	if input.PaymentMethod == "" {
		input.PaymentMethod = enums.PaymentMethodCash
	}
	if err := s.validate(actor, input); err != nil {
		s.metrics.Rejected("record_sale", string(pkgerrors.CodeValidation))
		return nil, err
	}
	if err := access.Require(s.authz.CanRecordSale(actor, input.ShopID), "not allowed to record sales for this shop"); err != nil {
		s.metrics.Rejected("record_sale", string(pkgerrors.CodeForbidden))
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"shop_id": input.ShopID.String(),
		"user_id": actor.UserID.String(),
		"role":    actor.Role,
	})

	if _, err := s.directory.Shop(ctx, input.ShopID); err != nil {
		return nil, err
	}
	productIDs := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	if _, err := s.directory.Products(ctx, productIDs); err != nil {
		return nil, err
	}

	stockLines := make([]stock.Line, 0, len(input.Lines))
	for _, line := range input.Lines {
		stockLines = append(stockLines, stock.Line{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if err := s.precheck(ctx, input.ShopID, stockLines); err != nil {
		s.metrics.Rejected("record_sale", string(pkgerrors.CodeInsufficientStock))
		return nil, err
	}

	sale := buildSale(actor.UserID, input, s.now())
	var debited []models.StockRecord
	attempt := 0
	err := db.WithConflictRetry(ctx, s.maxRetries, func() error {
		attempt++
		if attempt > 1 {
			s.metrics.ConflictRetried("record_sale")
		}
		fresh := sale.clone()
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			records, err := s.commit(ctx, tx, actor, fresh, stockLines)
			if err != nil {
				return err
			}
			sale, debited = fresh, records
			return nil
		})
	})
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil {
			s.metrics.Rejected("record_sale", string(appErr.Code()))
		}
		return nil, err
	}

	units := 0
	for _, line := range stockLines {
		units += line.Quantity
	}
	s.metrics.SaleRecorded(units)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"sale_id":      sale.ID.String(),
		"final_amount": sale.FinalAmount.StringFixed(2),
		"lines":        len(sale.Lines),
	})
	s.logg.Info(logCtx, "sale recorded")

	s.evaluate(logCtx, debited)
	result := toResult(sale.Sale)
	return &result, nil
}

func (s *service) validate(actor access.Actor, input RecordSaleInput) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(input); err != nil {
		return err
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", input.PaymentMethod).
			WithDetails(map[string]string{"payment_method": "is invalid"})
	}
	total := totalOf(input.Lines)
	if input.Discount.GreaterThan(total.Add(input.Tax)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds sale total").
			WithDetails(map[string]string{"discount": "must not exceed total plus tax"})
	}
	return nil
}

// precheck reports every line the shop cannot cover before anything is
// written. Repeated products are checked against their combined quantity.
func (s *service) precheck(ctx context.Context, shopID uuid.UUID, lines []stock.Line) error {
	requested := map[uuid.UUID]int{}
	order := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, seen := requested[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}
	stock.SortProductIDs(order)

	var shortfalls []stock.Shortfall
	for _, productID := range order {
		available := 0
		record, err := s.ledger.Get(ctx, shopID, productID)
		switch {
		case err == nil:
			available = record.Quantity
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		default:
			return err
		}
		if available < requested[productID] {
			shortfalls = append(shortfalls, stock.Shortfall{ProductID: productID, Requested: requested[productID], Available: available})
		}
	}
	if len(shortfalls) > 0 {
		return stock.InsufficientStockError(shortfalls)
	}
	return nil
}

func (s *service) commit(ctx context.Context, tx *gorm.DB, actor access.Actor, sale *pendingSale, lines []stock.Line) ([]models.StockRecord, error) {
	if err := s.repo.WithTx(tx).Create(ctx, &sale.Sale); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sale")
	}
	saleID := sale.ID
	staffID := actor.UserID
	records, err := s.ledger.DebitMulti(ctx, tx, sale.ShopID, lines, enums.StockMovementSale, &saleID, &staffID)
	if err != nil {
		return nil, err
	}

	refs := make([]payloads.SaleLineRef, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		refs = append(refs, payloads.SaleLineRef{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSaleRecorded,
		AggregateType: enums.AggregateSale,
		AggregateID:   sale.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: string(actor.Role)},
		Data: payloads.SaleRecordedEvent{
			SaleID:        sale.ID,
			ShopID:        sale.ShopID,
			StaffID:       sale.StaffID,
			FinalAmount:   sale.FinalAmount,
			PaymentMethod: sale.PaymentMethod,
			Lines:         refs,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit sale recorded event")
	}
	return records, nil
}

func (s *service) evaluate(ctx context.Context, records []models.StockRecord) {
	if s.evaluator == nil {
		return
	}
	for _, record := range records {
		if _, err := s.evaluator.Evaluate(ctx, record); err != nil {
			s.metrics.EvaluationFailed()
			s.logg.Error(s.logg.WithField(ctx, "product_id", record.ProductID.String()), "post-commit alert evaluation failed", err)
		}
	}
}

func (s *service) Get(ctx context.Context, actor access.Actor, saleID uuid.UUID) (*SaleResult, error) {
	if saleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale id is required")
	}
	sale, err := s.repo.FindByID(ctx, saleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale")
	}
	if sale == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "sale %s not found", saleID)
	}
	if err := access.Require(s.authz.CanViewShop(actor, sale.ShopID), "not allowed to view sales for this shop"); err != nil {
		return nil, err
	}
	result := toResult(*sale)
	return &result, nil
}

func (s *service) ListByShop(ctx context.Context, actor access.Actor, shopID uuid.UUID, params ListParams) (pagination.Page[SaleResult], error) {
	var page pagination.Page[SaleResult]
	if shopID == uuid.Nil {
		return page, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if err := access.Require(s.authz.CanViewShop(actor, shopID), "not allowed to view sales for this shop"); err != nil {
		return page, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByShop(ctx, shopID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sales")
	}
	built := pagination.Build(rows, params.Limit, func(sale models.Sale) pagination.Cursor {
		return pagination.Cursor{CreatedAt: sale.CreatedAt, ID: sale.ID}
	})
	page.NextCursor = built.NextCursor
	page.Items = make([]SaleResult, 0, len(built.Items))
	for _, sale := range built.Items {
		page.Items = append(page.Items, toResult(sale))
	}
	return page, nil
}

// pendingSale is a sale header with lines and totals computed once from the input.
type pendingSale struct {
	models.Sale
}

func buildSale(staffID uuid.UUID, input RecordSaleInput, at time.Time) *pendingSale {
	lines := make([]models.SaleLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		lines = append(lines, models.SaleLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  subtotal(line),
		})
	}
	total := totalOf(input.Lines)
	return &pendingSale{Sale: models.Sale{
		ShopID:          input.ShopID,
		StaffID:         staffID,
		TotalAmount:     total,
		Discount:        input.Discount,
		Tax:             input.Tax,
		FinalAmount:     total.Sub(input.Discount).Add(input.Tax),
		PaymentMethod:   input.PaymentMethod,
		Notes:           input.Notes,
		TransactionDate: at,
		CreatedAt:       at,
		Lines:           lines,
	}}
}

// clone returns a copy with fresh ids so a retried transaction inserts new rows.
func (p *pendingSale) clone() *pendingSale {
	out := &pendingSale{Sale: p.Sale}
	out.ID = uuid.Nil
	out.Lines = make([]models.SaleLine, len(p.Lines))
	for i, line := range p.Lines {
		line.ID = uuid.Nil
		line.SaleID = uuid.Nil
		out.Lines[i] = line
	}
	return out
}

func subtotal(line LineInput) decimal.Decimal {
	return line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

func totalOf(lines []LineInput) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(subtotal(line))
	}
	return total
}
