package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recovery-service/internal/models"
	"recovery-service/internal/store"
	"recovery-service/internal/util"

	"go.uber.org/zap"
)

// CheckoutService ingests synced checkouts and classifies abandonment
type CheckoutService struct {
	store  store.CheckoutRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(store store.CheckoutRepository) *CheckoutService {
	return &CheckoutService{
		store:  store,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// UpsertResult summarises a sync batch
type UpsertResult struct {
	Upserted int      `json:"upserted"`
	Rejected []string `json:"rejected,omitempty"`
}

// UpsertCheckouts normalizes and stores a batch of synced checkouts. Invalid
// records are rejected individually; a store error aborts the batch.
func (s *CheckoutService) UpsertCheckouts(ctx context.Context, checkouts []models.Checkout) (*UpsertResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.UpsertCheckouts")
	defer span.End()

	res := &UpsertResult{}
	now := s.now()

	for i := range checkouts {
		c := checkouts[i]
		if err := normalizeCheckout(&c, now); err != nil {
			res.Rejected = append(res.Rejected, fmt.Sprintf("%d: %v", i, err))
			continue
		}
		if err := s.store.UpsertCheckout(ctx, &c); err != nil {
			return res, err
		}
		res.Upserted++
	}

	util.CheckoutsUpsertedTotal.Add(float64(res.Upserted))
	if len(res.Rejected) > 0 {
		s.logger.Warn("Rejected checkouts in sync batch", zap.Strings("rejected", res.Rejected))
	}
	return res, nil
}

// MarkAbandoned moves OPEN checkouts older than the delay to ABANDONED
func (s *CheckoutService) MarkAbandoned(ctx context.Context, shop string, delayMinutes int) (int64, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.MarkAbandoned")
	defer span.End()

	if delayMinutes < 0 {
		delayMinutes = 0
	}
	now := s.now()
	n, err := s.store.MarkAbandoned(ctx, shop, now.Add(-time.Duration(delayMinutes)*time.Minute), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		util.CheckoutsAbandonedTotal.Add(float64(n))
		s.logger.Info("Checkouts marked abandoned", zap.String("shop", shop), zap.Int64("count", n))
	}
	return n, nil
}

func normalizeCheckout(c *models.Checkout, now time.Time) error {
	c.Shop = strings.TrimSpace(c.Shop)
	c.CheckoutID = strings.TrimSpace(c.CheckoutID)
	if c.Shop == "" || c.CheckoutID == "" {
		return fmt.Errorf("shop and checkout_id are required")
	}
	if c.ValueCents < 0 {
		return fmt.Errorf("negative value")
	}

	c.Email = strings.TrimSpace(c.Email)
	c.Phone = NormalizePhone(c.Phone)
	c.CustomerName = strings.TrimSpace(c.CustomerName)
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "USD"
	}

	c.Status = strings.ToUpper(strings.TrimSpace(c.Status))
	if c.Status == "" {
		if c.AbandonedAt != nil {
			c.Status = models.CheckoutStatusAbandoned
		} else {
			c.Status = models.CheckoutStatusOpen
		}
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	switch c.Status {
	case models.CheckoutStatusAbandoned:
		// The platform's own abandonment signal; its update time is the clock.
		if c.AbandonedAt == nil {
			at := c.UpdatedAt
			c.AbandonedAt = &at
		}
	case models.CheckoutStatusOpen, models.CheckoutStatusConverted, models.CheckoutStatusRecovered:
		c.AbandonedAt = nil
	default:
		return fmt.Errorf("unknown status %q", c.Status)
	}

	c.RecoveredAt = nil
	c.RecoveredOrderID = ""
	c.RecoveredAmountCents = 0
	return nil
}

// NormalizePhone strips formatting from a phone number, keeping a leading +
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
