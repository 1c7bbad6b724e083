package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopstock-backend/pkg/db"
	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopstock-backend/pkg/validate"
)

// ConfigureInput sets a record's on-hand quantity and thresholds, creating the
// record when it does not exist yet.
type ConfigureInput struct {
	ShopID       uuid.UUID `json:"shop_id" validate:"required"`
	ProductID    uuid.UUID `json:"product_id" validate:"required"`
	Quantity     int       `json:"quantity" validate:"gte=0"`
	MinThreshold int       `json:"min_threshold" validate:"gte=0"`
	MaxCapacity  *int      `json:"max_capacity,omitempty" validate:"omitempty,gte=0"`
}

func (l *ledger) Configure(ctx context.Context, actorID uuid.UUID, input ConfigureInput) (*models.StockRecord, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if input.MaxCapacity != nil {
		if input.MinThreshold > *input.MaxCapacity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "min_threshold cannot exceed max_capacity")
		}
		if input.Quantity > *input.MaxCapacity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot exceed max_capacity")
		}
	}
	if _, err := l.directory.Shop(ctx, input.ShopID); err != nil {
		return nil, err
	}
	if _, err := l.directory.Product(ctx, input.ProductID); err != nil {
		return nil, err
	}

	var saved models.StockRecord
	err := db.WithConflictRetry(ctx, l.maxRetries, func() error {
		return l.db.WithTx(ctx, func(tx *gorm.DB) error {
			record, err := l.configureTx(ctx, tx, actorID, input)
			if err != nil {
				return err
			}
			saved = *record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := l.logg.WithFields(ctx, map[string]any{
		"shop_id":       saved.ShopID.String(),
		"product_id":    saved.ProductID.String(),
		"quantity":      saved.Quantity,
		"min_threshold": saved.MinThreshold,
	})
	l.logg.Info(logCtx, "stock record configured")

	if l.evaluator != nil {
		if _, err := l.evaluator.Evaluate(ctx, saved); err != nil {
			l.metrics.EvaluationFailed()
			l.logg.Error(logCtx, "post-commit alert evaluation failed", err)
		}
	}
	return &saved, nil
}

func (l *ledger) configureTx(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, input ConfigureInput) (*models.StockRecord, error) {
	repo := l.repo.WithTx(tx)
	record, err := repo.FindForUpdate(ctx, input.ShopID, input.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock record")
	}

	before := 0
	if record == nil {
		record = &models.StockRecord{
			ShopID:       input.ShopID,
			ProductID:    input.ProductID,
			Quantity:     input.Quantity,
			MinThreshold: input.MinThreshold,
			MaxCapacity:  input.MaxCapacity,
		}
		if err := repo.Create(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "stock record created concurrently")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock record")
		}
	} else {
		before = record.Quantity
		record.Quantity = input.Quantity
		record.MinThreshold = input.MinThreshold
		record.MaxCapacity = input.MaxCapacity
		if err := repo.UpdateSettings(ctx, record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock record")
		}
	}

	delta := record.Quantity - before
	if delta != 0 {
		var actor *uuid.UUID
		if actorID != uuid.Nil {
			actor = &actorID
		}
		if err := repo.InsertMovement(ctx, &models.StockMovement{
			ShopID:         record.ShopID,
			ProductID:      record.ProductID,
			Reason:         enums.StockMovementAdjustment,
			QuantityDelta:  delta,
			QuantityBefore: before,
			QuantityAfter:  record.Quantity,
			ActorID:        actor,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock movement")
		}
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventStockAdjusted,
		AggregateType: enums.AggregateStockRecord,
		AggregateID:   record.ID,
		Data: payloads.StockAdjustedEvent{
			StockRecordID: record.ID,
			ShopID:        record.ShopID,
			ProductID:     record.ProductID,
			Quantity:      record.Quantity,
			Delta:         delta,
			MinThreshold:  record.MinThreshold,
		},
	}
	if actorID != uuid.Nil {
		event.Actor = &outbox.ActorRef{UserID: actorID}
	}
	if err := l.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit stock adjusted event")
	}
	return record, nil
}
