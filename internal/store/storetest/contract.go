// Package storetest holds behaviour checks shared by every store.Repository
// implementation.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recovery-service/internal/models"
	"recovery-service/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Run exercises repo against the repository contract. Each subtest works in
// its own shop, so a shared database can be reused between runs.
func Run(t *testing.T, repo store.Repository) {
	t.Run("CheckoutLifecycle", func(t *testing.T) { checkoutLifecycle(t, repo) })
	t.Run("SingleInFlightJob", func(t *testing.T) { singleInFlightJob(t, repo) })
	t.Run("ClaimIsExclusive", func(t *testing.T) { claimIsExclusive(t, repo) })
	t.Run("GuardedTransitions", func(t *testing.T) { guardedTransitions(t, repo) })
	t.Run("OutcomeMerge", func(t *testing.T) { outcomeMerge(t, repo) })
	t.Run("Lookups", func(t *testing.T) { lookups(t, repo) })
	t.Run("Settings", func(t *testing.T) { settings(t, repo) })
	t.Run("EventLog", func(t *testing.T) { eventLog(t, repo) })
	t.Run("DeleteShopData", func(t *testing.T) { deleteShopData(t, repo) })
}

func newShop() string {
	return "shop-" + uuid.New().String()[:8] + ".example"
}

func newJob(shop, checkoutID, status string, at time.Time) *models.CallJob {
	return &models.CallJob{
		ID:           uuid.New().String(),
		Shop:         shop,
		CheckoutID:   checkoutID,
		Phone:        "+15550001111",
		Status:       status,
		ScheduledFor: at,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func checkoutLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()

	open := &models.Checkout{
		Shop: shop, CheckoutID: "c-open", Phone: "+15550001111", ValueCents: 5000,
		Currency: "USD", Status: models.CheckoutStatusOpen,
		CreatedAt: base.Add(-2 * time.Hour), UpdatedAt: base.Add(-2 * time.Hour),
	}
	fresh := &models.Checkout{
		Shop: shop, CheckoutID: "c-fresh", Phone: "+15550002222", ValueCents: 5000,
		Currency: "USD", Status: models.CheckoutStatusOpen,
		CreatedAt: base.Add(-5 * time.Minute), UpdatedAt: base.Add(-5 * time.Minute),
	}
	require.NoError(t, repo.UpsertCheckout(ctx, open))
	require.NoError(t, repo.UpsertCheckout(ctx, fresh))

	n, err := repo.MarkAbandoned(ctx, shop, base.Add(-time.Hour), base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetCheckout(ctx, shop, "c-open")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusAbandoned, got.Status)
	require.NotNil(t, got.AbandonedAt)
	assert.True(t, got.AbandonedAt.Equal(base))

	// A resync reporting OPEN must not reopen it or move the abandonment time.
	resync := *open
	resync.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, repo.UpsertCheckout(ctx, &resync))
	got, err = repo.GetCheckout(ctx, shop, "c-open")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusAbandoned, got.Status)
	assert.True(t, got.AbandonedAt.Equal(base))

	candidates, err := repo.ListCallCandidates(ctx, shop, 1000, base)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "c-open", candidates[0].CheckoutID)

	candidates, err = repo.ListCallCandidates(ctx, shop, 10000, base)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	require.NoError(t, repo.CloseCheckout(ctx, shop, "c-open", models.CheckoutStatusRecovered, "o-1", 5000, base.Add(time.Hour)))
	got, err = repo.GetCheckout(ctx, shop, "c-open")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusRecovered, got.Status)
	assert.Nil(t, got.AbandonedAt)
	assert.Equal(t, "o-1", got.RecoveredOrderID)

	require.NoError(t, repo.UpsertCheckout(ctx, &resync))
	got, err = repo.GetCheckout(ctx, shop, "c-open")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusRecovered, got.Status)

	err = repo.CloseCheckout(ctx, shop, "missing", models.CheckoutStatusConverted, "o-2", 1, base)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = repo.GetCheckout(ctx, shop, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func singleInFlightJob(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()

	first := newJob(shop, "c-1", models.JobStatusQueued, base)
	require.NoError(t, repo.CreateJob(ctx, first))

	err := repo.CreateJob(ctx, newJob(shop, "c-1", models.JobStatusQueued, base.Add(time.Minute)))
	assert.ErrorIs(t, err, store.ErrInFlightExists)

	require.NoError(t, repo.CreateJob(ctx, newJob(shop, "c-2", models.JobStatusQueued, base)))

	ok, err := repo.FinishJob(ctx, first.ID, models.JobStatusQueued, models.JobStatusCanceled, "CANCELED", base)
	require.NoError(t, err)
	require.True(t, ok)

	second := newJob(shop, "c-1", models.JobStatusQueued, base.Add(2*time.Minute))
	require.NoError(t, repo.CreateJob(ctx, second))

	h, err := repo.JobHistory(ctx, shop, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, h.Total)
	assert.Equal(t, 1, h.InFlight)
	require.NotNil(t, h.Latest)
	assert.Equal(t, second.ID, h.Latest.ID)
}

func claimIsExclusive(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()

	job := newJob(shop, "c-1", models.JobStatusQueued, base)
	require.NoError(t, repo.CreateJob(ctx, job))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimJob(ctx, job.ID, base)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCalling, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func guardedTransitions(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()

	early := newJob(shop, "c-1", models.JobStatusQueued, base.Add(-time.Minute))
	late := newJob(shop, "c-2", models.JobStatusQueued, base.Add(time.Hour))
	require.NoError(t, repo.CreateJob(ctx, early))
	require.NoError(t, repo.CreateJob(ctx, late))

	due, err := repo.ListDueJobs(ctx, shop, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.ID, due[0].ID)

	ok, err := repo.RetryJob(ctx, early.ID, base.Add(time.Hour), "RETRY", base)
	require.NoError(t, err)
	assert.False(t, ok, "retry needs a CALLING job")

	ok, err = repo.ClaimJob(ctx, early.ID, base)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.RetryJob(ctx, early.ID, base.Add(3*time.Hour), "RETRY_SCHEDULED in 180m", base)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetJob(ctx, early.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.ScheduledFor.Equal(base.Add(3*time.Hour)))

	ok, err = repo.SetQueuedOutcome(ctx, late.ID, "PAUSED", base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimJob(ctx, late.ID, base)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.RecordProviderCall(ctx, late.ID, "vapi", "call_1", base)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.RecordProviderCall(ctx, late.ID, "vapi", "call_2", base)
	require.NoError(t, err)
	assert.False(t, ok, "provider call id is written once")

	n, err := repo.CancelInFlightJobs(ctx, shop, "c-2", "CANCELED: order o-1 created", base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err = repo.ApplyWebhookStatus(ctx, late.ID, models.JobStatusCompleted, "ENDED", base)
	require.NoError(t, err)
	assert.False(t, ok, "canceled jobs never resurrect")

	ok, err = repo.FinishJob(ctx, late.ID, models.JobStatusCalling, models.JobStatusCompleted, "done", base)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.GetJob(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, got.Status)
	assert.Equal(t, "call_1", got.ProviderCallID)
}

func outcomeMerge(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()

	job := newJob(shop, "c-1", models.JobStatusCalling, base)
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.MergeOutcome(ctx, job.ID, store.OutcomePatch{AppendTranscript: "Hello."}, base))
	require.NoError(t, repo.MergeOutcome(ctx, job.ID, store.OutcomePatch{AppendTranscript: "Bye."}, base))
	require.NoError(t, repo.MergeOutcome(ctx, job.ID, store.OutcomePatch{
		Sentiment: "positive", TagsCSV: "price", RecordingURL: "https://rec.example/1",
	}, base))
	require.NoError(t, repo.MergeOutcome(ctx, job.ID, store.OutcomePatch{Reason: "shipping cost"}, base))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello.\nBye.", got.Transcript)
	assert.Equal(t, "positive", got.Sentiment)
	assert.Equal(t, "price", got.TagsCSV)
	assert.Equal(t, "https://rec.example/1", got.RecordingURL)
	assert.Equal(t, "shipping cost", got.Reason)

	require.NoError(t, repo.MergeOutcome(ctx, job.ID, store.OutcomePatch{Transcript: "Full."}, base))
	got, err = repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Full.", got.Transcript)
	assert.Equal(t, "positive", got.Sentiment)
}

func lookups(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()
	callID := "call_" + uuid.New().String()[:8]

	older := newJob(shop, "c-1", models.JobStatusCalling, base)
	require.NoError(t, repo.CreateJob(ctx, older))
	ok, err := repo.RecordProviderCall(ctx, older.ID, "vapi", callID, base)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.FinishJob(ctx, older.ID, models.JobStatusCalling, models.JobStatusCompleted, "CALL_COMPLETED", base)
	require.NoError(t, err)
	require.True(t, ok)

	newer := newJob(shop, "c-1", models.JobStatusQueued, base.Add(time.Hour))
	require.NoError(t, repo.CreateJob(ctx, newer))

	latest, err := repo.FindLatestJob(ctx, shop, "c-1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	byCall, err := repo.FindJobByProviderCallID(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, byCall.ID)

	_, err = repo.FindJobByProviderCallID(ctx, "call_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.FindLatestJob(ctx, shop, "c-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	attributed, err := repo.AttributeLatestProviderJob(ctx, shop, "c-1", "o-1", 4200, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, older.ID, attributed)

	none, err := repo.AttributeLatestProviderJob(ctx, shop, "c-missing", "o-2", 1, base)
	require.NoError(t, err)
	assert.Empty(t, none)

	jobs, err := repo.ListJobs(ctx, shop, models.JobStatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "o-1", jobs[0].AttributedOrderID)
	assert.Equal(t, int64(4200), jobs[0].AttributedAmountCents)
}

func settings(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()

	st, err := repo.GetOrCreateSettings(ctx, shop)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, 30, st.DelayMinutes)
	assert.Equal(t, "09:00", st.CallWindowStart)

	st.Enabled = true
	st.AssistantID = "asst-1"
	require.NoError(t, repo.UpdateSettings(ctx, st))

	again, err := repo.GetOrCreateSettings(ctx, shop)
	require.NoError(t, err)
	assert.True(t, again.Enabled)
	assert.Equal(t, "asst-1", again.AssistantID)

	shops, err := repo.ListEnabledShops(ctx)
	require.NoError(t, err)
	assert.Contains(t, shops, shop)
}

func eventLog(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	id := "evt-" + uuid.New().String()

	seen, err := repo.IsEventProcessed(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, repo.MarkEventProcessed(ctx, id, models.EventTypeOrderCreated))
	require.NoError(t, repo.MarkEventProcessed(ctx, id, models.EventTypeOrderCreated))

	seen, err = repo.IsEventProcessed(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

func deleteShopData(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	shop := newShop()

	require.NoError(t, repo.UpsertCheckout(ctx, &models.Checkout{
		Shop: shop, CheckoutID: "c-1", Currency: "USD", Status: models.CheckoutStatusOpen,
		CreatedAt: base, UpdatedAt: base,
	}))
	job := newJob(shop, "c-1", models.JobStatusQueued, base)
	require.NoError(t, repo.CreateJob(ctx, job))
	_, err := repo.GetOrCreateSettings(ctx, shop)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteShopData(ctx, shop))

	_, err = repo.GetCheckout(ctx, shop, "c-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
