package worker

import (
	"context"
	"fmt"

	"recovery-service/internal/broker"
	"recovery-service/internal/models"
	"recovery-service/internal/service"
	"recovery-service/internal/util"

	"go.uber.org/zap"
)

// Source delivers messages to a handler until its context ends
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// CommerceWorker applies checkout and order events from the commerce platform
type CommerceWorker struct {
	source       Source
	eventHandler *broker.EventHandler
	checkouts    *service.CheckoutService
	logger       *zap.Logger
}

// NewCommerceWorker creates a new commerce worker
func NewCommerceWorker(
	source Source,
	checkouts *service.CheckoutService,
	conversions *service.ConversionService,
) *CommerceWorker {
	w := &CommerceWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		checkouts:    checkouts,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnCheckoutUpserted(w.handleCheckout)
	w.eventHandler.OnOrderCreated(conversions.HandleOrderEvent)

	return w
}

func (w *CommerceWorker) handleCheckout(ctx context.Context, event *models.CheckoutUpsertedEvent) error {
	res, err := w.checkouts.UpsertCheckouts(ctx, []models.Checkout{event.Checkout})
	if err != nil {
		return fmt.Errorf("failed to upsert checkout %s: %w", event.Checkout.CheckoutID, err)
	}
	if len(res.Rejected) > 0 {
		w.logger.Warn("Dropping invalid checkout event",
			zap.String("event_id", event.EventID),
			zap.Strings("rejected", res.Rejected))
	}
	return nil
}

// Start blocks consuming until ctx is canceled
func (w *CommerceWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting commerce worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying source
func (w *CommerceWorker) Stop() error {
	w.logger.Info("Stopping commerce worker")
	return w.source.Close()
}
