package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recovery-service/internal/broker"
	"recovery-service/internal/models"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"go.uber.org/zap"
)

// ErrInvalidOrder is returned for order events missing required fields
var ErrInvalidOrder = errors.New("invalid order event")

// OrderCreated is an order placed on the commerce platform
type OrderCreated struct {
	EventID     string    `json:"event_id,omitempty"`
	Shop        string    `json:"shop"`
	CheckoutID  string    `json:"checkout_id"`
	OrderID     string    `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversionResult reports how an order was applied
type ConversionResult struct {
	Duplicate       bool   `json:"duplicate,omitempty"`
	CheckoutStatus  string `json:"checkout_status,omitempty"`
	AttributedJobID string `json:"attributed_job_id,omitempty"`
	CanceledJobs    int64  `json:"canceled_jobs"`
}

// ConversionService closes checkouts when orders arrive
type ConversionService struct {
	checkouts store.CheckoutRepository
	jobs      store.JobRepository
	events    store.EventLog
	publisher broker.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewConversionService creates a new conversion service
func NewConversionService(
	checkouts store.CheckoutRepository,
	jobs store.JobRepository,
	events store.EventLog,
	publisher broker.Publisher,
) *ConversionService {
	if publisher == nil {
		publisher = broker.NopPublisher{}
	}
	return &ConversionService{
		checkouts: checkouts,
		jobs:      jobs,
		events:    events,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// HandleOrderCreated credits the order to the latest call that reached the
// provider, closes the checkout and cancels any pending call. Replays of the
// same event are no-ops.
func (s *ConversionService) HandleOrderCreated(ctx context.Context, order OrderCreated) (*ConversionResult, error) {
	ctx, span := util.StartSpan(ctx, "ConversionService.HandleOrderCreated")
	defer span.End()

	order.Shop = strings.TrimSpace(order.Shop)
	order.CheckoutID = strings.TrimSpace(order.CheckoutID)
	order.OrderID = strings.TrimSpace(order.OrderID)
	if order.Shop == "" || order.CheckoutID == "" || order.OrderID == "" {
		return nil, fmt.Errorf("%w: shop, checkout_id and order_id are required", ErrInvalidOrder)
	}
	if order.EventID == "" {
		order.EventID = fmt.Sprintf("order:%s:%s", order.Shop, order.OrderID)
	}
	at := order.CreatedAt
	if at.IsZero() {
		at = s.now()
	}

	processed, err := s.events.IsEventProcessed(ctx, order.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		s.logger.Info("Order event already processed", zap.String("event_id", order.EventID))
		return &ConversionResult{Duplicate: true}, nil
	}

	res := &ConversionResult{}

	jobID, err := s.jobs.AttributeLatestProviderJob(ctx, order.Shop, order.CheckoutID, order.OrderID, order.AmountCents, at)
	if err != nil {
		return nil, err
	}
	res.AttributedJobID = jobID

	status := models.CheckoutStatusConverted
	if jobID != "" {
		status = models.CheckoutStatusRecovered
	}
	err = s.checkouts.CloseCheckout(ctx, order.Shop, order.CheckoutID, status, order.OrderID, order.AmountCents, at)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Info("Order for unknown checkout",
			zap.String("shop", order.Shop),
			zap.String("checkout_id", order.CheckoutID))
	case err != nil:
		return nil, err
	default:
		res.CheckoutStatus = status
		util.CheckoutsClosedTotal.WithLabelValues(status).Inc()
		if status == models.CheckoutStatusRecovered {
			util.RecoveredRevenueCents.Add(float64(order.AmountCents))
		}
	}

	res.CanceledJobs, err = s.jobs.CancelInFlightJobs(ctx, order.Shop, order.CheckoutID,
		fmt.Sprintf("CANCELED: order %s created", order.OrderID), s.now())
	if err != nil {
		return nil, err
	}

	if err := s.events.MarkEventProcessed(ctx, order.EventID, models.EventTypeOrderCreated); err != nil {
		return nil, fmt.Errorf("failed to mark event processed: %w", err)
	}

	s.logger.Info("Order applied to checkout",
		zap.String("shop", order.Shop),
		zap.String("checkout_id", order.CheckoutID),
		zap.String("order_id", order.OrderID),
		zap.String("status", res.CheckoutStatus),
		zap.String("attributed_job_id", jobID),
		zap.Int64("canceled_jobs", res.CanceledJobs))

	if res.CheckoutStatus != "" {
		eventType := models.EventTypeCheckoutConverted
		if res.CheckoutStatus == models.CheckoutStatusRecovered {
			eventType = models.EventTypeCheckoutRecovered
		}
		event := &models.CheckoutClosedEvent{
			BaseEvent:   broker.NewBaseEvent(eventType),
			Shop:        order.Shop,
			CheckoutID:  order.CheckoutID,
			OrderID:     order.OrderID,
			AmountCents: order.AmountCents,
			JobID:       jobID,
		}
		if err := s.publisher.PublishCheckoutClosed(ctx, event); err != nil {
			s.logger.Error("Failed to publish checkout closed event", zap.Error(err))
		}
	}

	return res, nil
}

// HandleOrderEvent adapts a broker event to HandleOrderCreated
func (s *ConversionService) HandleOrderEvent(ctx context.Context, event *models.OrderCreatedEvent) error {
	_, err := s.HandleOrderCreated(ctx, OrderCreated{
		EventID:     event.EventID,
		Shop:        event.Shop,
		CheckoutID:  event.CheckoutID,
		OrderID:     event.OrderID,
		AmountCents: event.AmountCents,
		CreatedAt:   event.CreatedAt,
	})
	if errors.Is(err, ErrInvalidOrder) {
		// Poison message; committing it is the only way past it.
		s.logger.Warn("Dropping invalid order event", zap.String("event_id", event.EventID), zap.Error(err))
		return nil
	}
	return err
}
