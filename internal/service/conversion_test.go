package service

import (
	"context"
	"testing"
	"time"

	"recovery-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCancelsQueuedJob(t *testing.T) {
	h := newHarness(t)
	h.abandon("c-1", time.Hour)
	h.enqueueAll()
	ctx := context.Background()

	res, err := h.conversion.HandleOrderCreated(ctx, OrderCreated{
		Shop: testShop, CheckoutID: "c-1", OrderID: "o-1", AmountCents: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.CanceledJobs)
	assert.Equal(t, models.CheckoutStatusConverted, res.CheckoutStatus)
	assert.Empty(t, res.AttributedJobID)

	job := h.onlyJob()
	assert.Equal(t, models.JobStatusCanceled, job.Status)
	assert.Equal(t, "CANCELED: order o-1 created", job.Outcome)

	checkout, err := h.st.GetCheckout(ctx, testShop, "c-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusConverted, checkout.Status)
	assert.Nil(t, checkout.AbandonedAt)

	// Nothing further is enqueued or dispatched for the checkout.
	h.advance(24 * time.Hour)
	n, err := h.enqueuer.Enqueue(ctx, testShop, h.policy())
	require.NoError(t, err)
	assert.Zero(t, n)
	dr, err := h.dispatcher.RunDue(ctx, DispatchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, dr.Processed)
	assert.Len(t, h.jobs(), 1)
	assert.True(t, h.pub.has(models.EventTypeCheckoutConverted))
}

func TestOrderAttributesProviderBackedJob(t *testing.T) {
	h := newHarness(t)
	h.abandon("c-1", time.Hour)
	h.enqueueAll()
	ctx := context.Background()

	_, err := h.dispatcher.RunDue(ctx, DispatchOptions{Limit: 10})
	require.NoError(t, err)
	called := h.onlyJob()
	require.Equal(t, models.JobStatusCalling, called.Status)

	orderAt := h.now().Add(5 * time.Minute)
	res, err := h.conversion.HandleOrderCreated(ctx, OrderCreated{
		Shop: testShop, CheckoutID: "c-1", OrderID: "o-9", AmountCents: 4200, CreatedAt: orderAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusRecovered, res.CheckoutStatus)
	assert.Equal(t, called.ID, res.AttributedJobID)

	job := h.onlyJob()
	assert.Equal(t, models.JobStatusCanceled, job.Status)
	assert.Equal(t, "o-9", job.AttributedOrderID)
	assert.Equal(t, int64(4200), job.AttributedAmountCents)
	require.NotNil(t, job.AttributedAt)
	assert.True(t, orderAt.Equal(*job.AttributedAt))

	checkout, err := h.st.GetCheckout(ctx, testShop, "c-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusRecovered, checkout.Status)
	assert.Equal(t, "o-9", checkout.RecoveredOrderID)
	assert.Equal(t, int64(4200), checkout.RecoveredAmountCents)
	assert.True(t, h.pub.has(models.EventTypeCheckoutRecovered))
}

func TestOrderEventIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.abandon("c-1", time.Hour)
	ctx := context.Background()
	order := OrderCreated{Shop: testShop, CheckoutID: "c-1", OrderID: "o-1", AmountCents: 100}

	first, err := h.conversion.HandleOrderCreated(ctx, order)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := h.conversion.HandleOrderCreated(ctx, order)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	processed, err := h.st.IsEventProcessed(ctx, "order:"+testShop+":o-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestOrderValidationAndUnknownCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.conversion.HandleOrderCreated(ctx, OrderCreated{Shop: testShop, OrderID: "o-1"})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	res, err := h.conversion.HandleOrderCreated(ctx, OrderCreated{Shop: testShop, CheckoutID: "nope", OrderID: "o-2"})
	require.NoError(t, err)
	assert.Empty(t, res.CheckoutStatus)

	assert.NoError(t, h.conversion.HandleOrderEvent(ctx, &models.OrderCreatedEvent{Shop: testShop}))
}
