package stockevents

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopstock-backend/pkg/db/models"
	"github.com/angelmondragon/shopstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
	"github.com/angelmondragon/shopstock-backend/pkg/logger"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopstock-backend/pkg/outbox/registry"
)

const consumerName = "stock-alerts"

type stockReader interface {
	Get(ctx context.Context, shopID, productID uuid.UUID) (*models.StockRecord, error)
}

type alertEvaluator interface {
	Evaluate(ctx context.Context, record models.StockRecord) (*models.Alert, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer re-evaluates alerts for every stock record a committed event
// touched. It backs up the in-process post-commit evaluation, which is lost
// when a process dies between commit and evaluation.
type Consumer struct {
	stock    stockReader
	alerts   alertEvaluator
	manager  idempotencyChecker
	decoders *registry.DecoderRegistry
	logg     *logger.Logger
}

func NewConsumer(stock stockReader, alerts alertEvaluator, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert engine required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		stock:    stock,
		alerts:   alerts,
		manager:  manager,
		decoders: newDecoders(),
		logg:     logg,
	}, nil
}

func newDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventSaleRecorded, 1, decodeInto[payloads.SaleRecordedEvent])
	decoders.Register(enums.EventTransferStatusChanged, 1, decodeInto[payloads.TransferStatusChangedEvent])
	decoders.Register(enums.EventStockAdjusted, 1, decodeInto[payloads.StockAdjustedEvent])
	return decoders
}

func decodeInto[T any](raw json.RawMessage) (interface{}, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Run receives from the inventory subscription until ctx is canceled.
func (c *Consumer) Run(ctx context.Context, subscription *pubsub.Subscriber) error {
	if subscription == nil {
		return fmt.Errorf("inventory subscription required")
	}
	return subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		eventType := enums.OutboxEventType(msg.Attributes["event_type"])
		logCtx := c.logg.WithFields(ctx, map[string]any{"message_id": msg.ID, "event_type": eventType})

		var envelope outbox.PayloadEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			c.logg.Error(logCtx, "failed to decode envelope", err)
			msg.Ack()
			return
		}
		if err := c.Process(ctx, eventType, envelope); err != nil {
			c.logg.Error(logCtx, "stock event handling failed", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process handles one decoded envelope. Events that touch no stock are
// acknowledged without work; a returned error asks for redelivery.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	version := envelope.Version
	if version <= 0 {
		version = 1
	}
	decoded, err := c.decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		c.logg.Debug(logCtx, "event not handled by stock alert consumer")
		return nil
	}
	touching, ok := decoded.(payloads.StockTouching)
	if !ok {
		return nil
	}
	keys := touching.TouchedStock()
	if len(keys) == 0 {
		return nil
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return nil
	}
	already, err := c.manager.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	if err := c.evaluate(logCtx, keys); err != nil {
		_ = c.manager.Delete(ctx, consumerName, eventID)
		return err
	}
	c.logg.Info(c.logg.WithField(logCtx, "records", len(keys)), "stock event evaluated")
	return nil
}

// evaluate reads each record fresh so the alert reflects current stock, not
// the quantity at event time.
func (c *Consumer) evaluate(ctx context.Context, keys []payloads.StockKey) error {
	var errs error
	for _, key := range keys {
		record, err := c.stock.Get(ctx, key.ShopID, key.ProductID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := c.alerts.Evaluate(ctx, *record); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("evaluate %s/%s: %w", key.ShopID, key.ProductID, err))
		}
	}
	return errs
}
