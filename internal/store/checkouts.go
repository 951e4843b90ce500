package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"recovery-service/internal/models"
)

// UpsertCheckout inserts or refreshes a synced checkout. A closed checkout
// stays closed, an abandoned one is not reopened, and the first abandonment
// time is kept.
func (s *Store) UpsertCheckout(ctx context.Context, c *models.Checkout) error {
	query := `
		INSERT INTO checkouts (
			shop, checkout_id, email, phone, customer_name, value_cents, currency,
			items_preview, checkout_url, status, created_at, updated_at, abandoned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (shop, checkout_id) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			customer_name = EXCLUDED.customer_name,
			value_cents = EXCLUDED.value_cents,
			currency = EXCLUDED.currency,
			items_preview = EXCLUDED.items_preview,
			checkout_url = EXCLUDED.checkout_url,
			updated_at = EXCLUDED.updated_at,
			status = CASE
				WHEN checkouts.status IN ('CONVERTED', 'RECOVERED') THEN checkouts.status
				WHEN checkouts.status = 'ABANDONED' AND EXCLUDED.status = 'OPEN' THEN checkouts.status
				ELSE EXCLUDED.status
			END,
			abandoned_at = CASE
				WHEN checkouts.status IN ('CONVERTED', 'RECOVERED') THEN NULL
				WHEN checkouts.status = 'ABANDONED' AND EXCLUDED.status IN ('OPEN', 'ABANDONED')
					THEN COALESCE(checkouts.abandoned_at, EXCLUDED.abandoned_at)
				WHEN EXCLUDED.status = 'ABANDONED' THEN EXCLUDED.abandoned_at
				ELSE NULL
			END`

	_, err := s.db.ExecContext(ctx, query,
		c.Shop, c.CheckoutID, c.Email, c.Phone, c.CustomerName, c.ValueCents, c.Currency,
		c.ItemsPreview, c.CheckoutURL, c.Status, c.CreatedAt, c.UpdatedAt, c.AbandonedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert checkout %s: %w", c.CheckoutID, err)
	}
	return nil
}

// GetCheckout retrieves a checkout by shop and checkout id
func (s *Store) GetCheckout(ctx context.Context, shop, checkoutID string) (*models.Checkout, error) {
	var c models.Checkout
	err := s.db.GetContext(ctx, &c,
		"SELECT * FROM checkouts WHERE shop = $1 AND checkout_id = $2", shop, checkoutID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkAbandoned moves OPEN checkouts created before the cutoff to ABANDONED
func (s *Store) MarkAbandoned(ctx context.Context, shop string, createdBefore, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkouts
		SET status = 'ABANDONED', abandoned_at = $3, updated_at = $3
		WHERE shop = $1 AND status = 'OPEN' AND created_at <= $2`,
		shop, createdBefore, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark checkouts abandoned: %w", err)
	}
	return res.RowsAffected()
}

// ListCallCandidates returns abandoned checkouts that are eligible for a call
func (s *Store) ListCallCandidates(ctx context.Context, shop string, minValueCents int64, abandonedBefore time.Time) ([]models.Checkout, error) {
	var checkouts []models.Checkout
	err := s.db.SelectContext(ctx, &checkouts, `
		SELECT * FROM checkouts
		WHERE shop = $1
		  AND status = 'ABANDONED'
		  AND phone <> ''
		  AND value_cents >= $2
		  AND abandoned_at <= $3
		ORDER BY abandoned_at ASC`,
		shop, minValueCents, abandonedBefore)
	return checkouts, err
}

// CloseCheckout marks a checkout CONVERTED or RECOVERED and clears abandoned_at
func (s *Store) CloseCheckout(ctx context.Context, shop, checkoutID, status, orderID string, amountCents int64, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if status == models.CheckoutStatusRecovered {
		res, err = s.db.ExecContext(ctx, `
			UPDATE checkouts
			SET status = $3, abandoned_at = NULL, recovered_at = $6,
			    recovered_order_id = $4, recovered_amount_cents = $5, updated_at = $6
			WHERE shop = $1 AND checkout_id = $2`,
			shop, checkoutID, status, orderID, amountCents, at)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE checkouts
			SET status = $3, abandoned_at = NULL, updated_at = $4
			WHERE shop = $1 AND checkout_id = $2`,
			shop, checkoutID, status, at)
	}
	if err != nil {
		return fmt.Errorf("failed to close checkout %s: %w", checkoutID, err)
	}

	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
