package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"recovery-service/internal/models"
)

// GetOrCreateSettings returns a shop's settings, creating defaults on first access
func (s *Store) GetOrCreateSettings(ctx context.Context, shop string) (*models.Settings, error) {
	d := models.DefaultSettings(shop)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (
			shop, enabled, delay_minutes, max_attempts, retry_minutes, min_order_value_cents,
			currency, call_window_start, call_window_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (shop) DO NOTHING`,
		d.Shop, d.Enabled, d.DelayMinutes, d.MaxAttempts, d.RetryMinutes, d.MinOrderValueCents,
		d.Currency, d.CallWindowStart, d.CallWindowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to create default settings for %s: %w", shop, err)
	}

	var settings models.Settings
	err = s.db.GetContext(ctx, &settings, "SELECT * FROM settings WHERE shop = $1", shop)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings writes a shop's settings
func (s *Store) UpdateSettings(ctx context.Context, st *models.Settings) error {
	query := `
		INSERT INTO settings (
			shop, enabled, delay_minutes, max_attempts, retry_minutes, min_order_value_cents,
			currency, call_window_start, call_window_end, assistant_id, phone_number_id, prompt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (shop) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			delay_minutes = EXCLUDED.delay_minutes,
			max_attempts = EXCLUDED.max_attempts,
			retry_minutes = EXCLUDED.retry_minutes,
			min_order_value_cents = EXCLUDED.min_order_value_cents,
			currency = EXCLUDED.currency,
			call_window_start = EXCLUDED.call_window_start,
			call_window_end = EXCLUDED.call_window_end,
			assistant_id = EXCLUDED.assistant_id,
			phone_number_id = EXCLUDED.phone_number_id,
			prompt = EXCLUDED.prompt,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, st, query,
		st.Shop, st.Enabled, st.DelayMinutes, st.MaxAttempts, st.RetryMinutes, st.MinOrderValueCents,
		st.Currency, st.CallWindowStart, st.CallWindowEnd, st.AssistantID, st.PhoneNumberID, st.Prompt)
}

// ListEnabledShops returns every shop with call recovery switched on
func (s *Store) ListEnabledShops(ctx context.Context) ([]string, error) {
	var shops []string
	err := s.db.SelectContext(ctx, &shops, "SELECT shop FROM settings WHERE enabled ORDER BY shop")
	return shops, err
}
