package service

import (
	"context"
	"testing"
	"time"

	"recovery-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCheckoutsNormalizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	updated := h.now().Add(-2 * time.Hour)

	res, err := h.checkouts.UpsertCheckouts(ctx, []models.Checkout{
		{Shop: " " + testShop, CheckoutID: "c-1", Phone: "+1 (555) 000-1111", Currency: "usd", Status: "abandoned", UpdatedAt: updated},
		{Shop: testShop, CheckoutID: "c-2", ValueCents: 100},
		{Shop: testShop},
		{Shop: testShop, CheckoutID: "c-3", Status: "weird"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Upserted)
	assert.Len(t, res.Rejected, 2)

	c1, err := h.st.GetCheckout(ctx, testShop, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", c1.Phone)
	assert.Equal(t, "USD", c1.Currency)
	assert.Equal(t, models.CheckoutStatusAbandoned, c1.Status)
	require.NotNil(t, c1.AbandonedAt)
	assert.Equal(t, updated, *c1.AbandonedAt)

	c2, err := h.st.GetCheckout(ctx, testShop, "c-2")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusOpen, c2.Status)
	assert.Nil(t, c2.AbandonedAt)
	assert.Equal(t, h.now(), c2.CreatedAt)
}

func TestUpsertNeverReopensClosedCheckout(t *testing.T) {
	h := newHarness(t)
	h.abandon("c-1", time.Hour)
	ctx := context.Background()

	_, err := h.conversion.HandleOrderCreated(ctx, OrderCreated{Shop: testShop, CheckoutID: "c-1", OrderID: "o-1"})
	require.NoError(t, err)

	_, err = h.checkouts.UpsertCheckouts(ctx, []models.Checkout{
		{Shop: testShop, CheckoutID: "c-1", Phone: "+15550001111", Status: models.CheckoutStatusAbandoned},
	})
	require.NoError(t, err)

	c, err := h.st.GetCheckout(ctx, testShop, "c-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusConverted, c.Status)
	assert.Nil(t, c.AbandonedAt)
}

func TestMarkAbandoned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.now().Add(-time.Hour)
	recent := h.now().Add(-5 * time.Minute)

	_, err := h.checkouts.UpsertCheckouts(ctx, []models.Checkout{
		{Shop: testShop, CheckoutID: "old", CreatedAt: old},
		{Shop: testShop, CheckoutID: "recent", CreatedAt: recent},
	})
	require.NoError(t, err)

	n, err := h.checkouts.MarkAbandoned(ctx, testShop, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c, err := h.st.GetCheckout(ctx, testShop, "old")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusAbandoned, c.Status)
	require.NotNil(t, c.AbandonedAt)
	assert.Equal(t, h.now(), *c.AbandonedAt)

	// Idempotent with unchanged inputs.
	n, err = h.checkouts.MarkAbandoned(ctx, testShop, 30)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+442071234567", NormalizePhone(" +44 20 7123-4567 "))
	assert.Equal(t, "5551234", NormalizePhone("555.1234"))
	assert.Equal(t, "", NormalizePhone("+"))
	assert.Equal(t, "", NormalizePhone("n/a"))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "42.05 USD", FormatMoney(4205, "USD"))
	assert.Equal(t, "0.99 EUR", FormatMoney(99, "EUR"))
	assert.Equal(t, "-1.50 USD", FormatMoney(-150, "USD"))
}

func TestBuildCallRequest(t *testing.T) {
	st := models.DefaultSettings(testShop)
	st.AssistantID, st.PhoneNumberID, st.Prompt = "asst", "pn", "Offer free shipping."
	c := &models.Checkout{Shop: testShop, CheckoutID: "c-1", Phone: "+1555", CustomerName: "Ada",
		ValueCents: 1999, Currency: "USD", ItemsPreview: "2x Mug"}
	job := &models.CallJob{ID: "job-1", Shop: testShop, CheckoutID: "c-1"}

	req, err := BuildCallRequest(&st, c, job)
	require.NoError(t, err)
	assert.Equal(t, "+1555", req.CustomerPhone)
	assert.Contains(t, req.SystemPrompt, "Ada left items in their cart (2x Mug) worth 19.99 USD")
	assert.Contains(t, req.SystemPrompt, "Merchant instructions:\nOffer free shipping.")
	assert.Contains(t, req.FirstMessage, "Hi Ada")
	assert.Equal(t, "19.99 USD", req.Variables["cart_total"])
	assert.Equal(t, "job-1", req.Metadata.CallJobID)
}
