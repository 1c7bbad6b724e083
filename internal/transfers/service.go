package transfers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
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

// Service drives the inter-shop transfer workflow:
//
//	pending --approve--> approved --complete--> completed
//	pending --reject---> rejected
//	pending --cancel---> cancelled
type Service interface {
	Request(ctx context.Context, actor access.Actor, input RequestInput) (*models.StockTransfer, error)
	Approve(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error)
	Reject(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error)
	Cancel(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error)
	Complete(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error)
	Get(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error)
	List(ctx context.Context, actor access.Actor, filter ListFilter) (pagination.Page[models.StockTransfer], error)
}

// AlertEvaluator is run on the source record after a transfer completes.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, record models.StockRecord) (*models.Alert, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires a transfer service. Evaluator, Logger and Metrics are optional.
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
		return nil, fmt.Errorf("transfer repository required")
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

func (s *service) Request(ctx context.Context, actor access.Actor, input RequestInput) (*models.StockTransfer, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if input.FromShopID == input.ToShopID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source and destination shop must differ").
			WithDetails(map[string]string{"to_shop_id": "must differ from from_shop_id"})
	}
	if err := access.Require(s.authz.CanRequestTransfer(actor, input.FromShopID), "not allowed to request transfers from this shop"); err != nil {
		s.metrics.Rejected("request_transfer", string(pkgerrors.CodeForbidden))
		return nil, err
	}
	if _, err := s.directory.Shop(ctx, input.FromShopID); err != nil {
		return nil, err
	}
	if _, err := s.directory.Shop(ctx, input.ToShopID); err != nil {
		return nil, err
	}
	if _, err := s.directory.Product(ctx, input.ProductID); err != nil {
		return nil, err
	}

	// Advisory only: stock is checked again under lock at completion.
	available := 0
	record, err := s.ledger.Get(ctx, input.FromShopID, input.ProductID)
	switch {
	case err == nil:
		available = record.Quantity
	case !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return nil, err
	}
	if available < input.Quantity {
		s.metrics.Rejected("request_transfer", string(pkgerrors.CodeInsufficientStock))
		return nil, stock.InsufficientStockError([]stock.Shortfall{{ProductID: input.ProductID, Requested: input.Quantity, Available: available}})
	}

	now := s.now()
	transfer := &models.StockTransfer{
		FromShopID:  input.FromShopID,
		ToShopID:    input.ToShopID,
		ProductID:   input.ProductID,
		Quantity:    input.Quantity,
		Status:      enums.TransferStatusPending,
		RequestedBy: actor.UserID,
		Notes:       input.Notes,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, transfer); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transfer")
		}
		return s.emit(ctx, tx, actor, transfer, enums.TransferActionRequest, "")
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, transfer, enums.TransferActionRequest)
	return transfer, nil
}

func (s *service) Approve(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error) {
	if err := s.requireManager(actor, enums.TransferActionApprove); err != nil {
		return nil, err
	}
	return s.review(ctx, actor, transferID, enums.TransferActionApprove, enums.TransferStatusApproved)
}

func (s *service) Reject(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error) {
	if err := s.requireManager(actor, enums.TransferActionReject); err != nil {
		return nil, err
	}
	return s.review(ctx, actor, transferID, enums.TransferActionReject, enums.TransferStatusRejected)
}

// review moves a pending transfer to next and stamps the reviewer.
func (s *service) review(ctx context.Context, actor access.Actor, transferID uuid.UUID, action enums.TransferAction, next enums.TransferStatus) (*models.StockTransfer, error) {
	transfer, err := s.transition(ctx, actor, transferID, action, enums.TransferStatusPending, func(tx *gorm.DB, t *models.StockTransfer) error {
		now := s.now()
		reviewer := actor.UserID
		t.Status = next
		t.ApprovedBy = &reviewer
		t.ApprovedAt = &now
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, transfer, action)
	return transfer, nil
}

func (s *service) Cancel(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	transfer, err := s.transition(ctx, actor, transferID, enums.TransferActionCancel, enums.TransferStatusPending, func(tx *gorm.DB, t *models.StockTransfer) error {
		if err := access.Require(s.authz.CanCancelTransfer(actor, t.RequestedBy), "only the requester or a manager can cancel a transfer"); err != nil {
			return err
		}
		t.Status = enums.TransferStatusCancelled
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, transfer, enums.TransferActionCancel)
	return transfer, nil
}

// Complete moves the stock and closes the transfer in one transaction. Both
// stock rows are locked in key order and the source is re-validated under
// lock; a shortfall leaves the transfer approved and both shops untouched.
func (s *service) Complete(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error) {
	if err := s.requireManager(actor, enums.TransferActionComplete); err != nil {
		return nil, err
	}
	var source *models.StockRecord
	transfer, err := s.transition(ctx, actor, transferID, enums.TransferActionComplete, enums.TransferStatusApproved, func(tx *gorm.DB, t *models.StockTransfer) error {
		ref := t.ID
		actorID := actor.UserID
		debited, _, err := s.ledger.Move(ctx, tx, stock.Move{
			FromShopID:  t.FromShopID,
			ToShopID:    t.ToShopID,
			ProductID:   t.ProductID,
			Quantity:    t.Quantity,
			ReferenceID: &ref,
			ActorID:     &actorID,
		})
		if err != nil {
			return err
		}
		now := s.now()
		t.Status = enums.TransferStatusCompleted
		t.CompletedAt = &now
		t.UpdatedAt = now
		source = debited
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			s.metrics.Rejected("complete_transfer", string(pkgerrors.CodeInsufficientStock))
		}
		return nil, err
	}
	s.record(ctx, actor, transfer, enums.TransferActionComplete)

	if s.evaluator != nil && source != nil {
		if _, err := s.evaluator.Evaluate(ctx, *source); err != nil {
			s.metrics.EvaluationFailed()
			s.logg.Error(s.logg.WithField(ctx, "transfer_id", transfer.ID.String()), "post-commit alert evaluation failed", err)
		}
	}
	return transfer, nil
}

// transition locks the transfer, checks it is in from, applies mutate and
// persists the result with its event. Conflicts are retried.
func (s *service) transition(
	ctx context.Context,
	actor access.Actor,
	transferID uuid.UUID,
	action enums.TransferAction,
	from enums.TransferStatus,
	mutate func(tx *gorm.DB, t *models.StockTransfer) error,
) (*models.StockTransfer, error) {
	if transferID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer id is required")
	}
	var result *models.StockTransfer
	attempt := 0
	err := db.WithConflictRetry(ctx, s.maxRetries, func() error {
		attempt++
		if attempt > 1 {
			s.metrics.ConflictRetried(string(action) + "_transfer")
		}
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			transfer, err := repo.FindForUpdate(ctx, transferID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transfer")
			}
			if transfer == nil {
				return pkgerrors.Newf(pkgerrors.CodeNotFound, "transfer %s not found", transferID)
			}
			if transfer.Status != from {
				return invalidTransition(transfer.Status, action)
			}
			previous := transfer.Status
			if err := mutate(tx, transfer); err != nil {
				return err
			}
			if err := repo.UpdateReview(ctx, transfer); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transfer")
			}
			if err := s.emit(ctx, tx, actor, transfer, action, previous); err != nil {
				return err
			}
			result = transfer
			return nil
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidStateTransition) {
			s.metrics.Rejected(string(action)+"_transfer", string(pkgerrors.CodeInvalidStateTransition))
		}
		return nil, err
	}
	return result, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, actor access.Actor, t *models.StockTransfer, action enums.TransferAction, previous enums.TransferStatus) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTransferStatusChanged,
		AggregateType: enums.AggregateTransfer,
		AggregateID:   t.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: string(actor.Role)},
		Data: payloads.TransferStatusChangedEvent{
			TransferID:     t.ID,
			FromShopID:     t.FromShopID,
			ToShopID:       t.ToShopID,
			ProductID:      t.ProductID,
			Quantity:       t.Quantity,
			Action:         action,
			PreviousStatus: previous,
			Status:         t.Status,
			ActorID:        actor.UserID,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit transfer status changed event")
	}
	return nil
}

func (s *service) record(ctx context.Context, actor access.Actor, t *models.StockTransfer, action enums.TransferAction) {
	s.metrics.TransferTransition(string(action))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transfer_id": t.ID.String(),
		"user_id":     actor.UserID.String(),
		"action":      action,
		"status":      t.Status,
	}), "transfer updated")
}

func (s *service) requireManager(actor access.Actor, action enums.TransferAction) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if err := access.Require(s.authz.CanManageTransfers(actor), fmt.Sprintf("not allowed to %s transfers", action)); err != nil {
		s.metrics.Rejected(string(action)+"_transfer", string(pkgerrors.CodeForbidden))
		return err
	}
	return nil
}

func (s *service) Get(ctx context.Context, actor access.Actor, transferID uuid.UUID) (*models.StockTransfer, error) {
	if transferID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer id is required")
	}
	transfer, err := s.repo.FindByID(ctx, transferID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transfer")
	}
	if transfer == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "transfer %s not found", transferID)
	}
	visible := s.authz.CanManageTransfers(actor) ||
		s.authz.CanViewShop(actor, transfer.FromShopID) ||
		s.authz.CanViewShop(actor, transfer.ToShopID)
	if err := access.Require(visible, "not allowed to view this transfer"); err != nil {
		return nil, err
	}
	return transfer, nil
}

// List pages through transfers newest first. Actors who cannot manage
// transfers only see transfers touching their own shop.
func (s *service) List(ctx context.Context, actor access.Actor, filter ListFilter) (pagination.Page[models.StockTransfer], error) {
	var page pagination.Page[models.StockTransfer]
	if filter.Status != nil && !filter.Status.IsValid() {
		return page, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid transfer status %q", *filter.Status)
	}
	if !s.authz.CanManageTransfers(actor) {
		if actor.ShopID == nil {
			return page, pkgerrors.New(pkgerrors.CodeForbidden, "no shop assigned")
		}
		if filter.ShopID != nil && !s.authz.CanViewShop(actor, *filter.ShopID) {
			return page, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to view transfers for this shop")
		}
		own := *actor.ShopID
		filter.ShopID = &own
	}
	cursor, err := pagination.ParseCursor(filter.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(filter.Limit))
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transfers")
	}
	return pagination.Build(rows, filter.Limit, func(t models.StockTransfer) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.RequestedAt, ID: t.ID}
	}), nil
}

func invalidTransition(current enums.TransferStatus, action enums.TransferAction) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidStateTransition, "cannot %s a %s transfer", action, current).
		WithDetails(map[string]any{
			"current_status": string(current),
			"action":         string(action),
		})
}
