package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"recovery-service/internal/models"

	"github.com/stretchr/testify/require"
)

// TestRandomInterleavingsKeepJobLimits drives enqueue, dispatch, order
// and webhook operations in random order and checks after every step that
// no checkout has two in-flight jobs and no job exceeds the attempt cap.
func TestRandomInterleavingsKeepJobLimits(t *testing.T) {
	const maxAttempts = 3

	for seed := int64(1); seed <= 40; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h := newHarness(t)
			h.saveSettings(func(s *models.Settings) {
				s.MaxAttempts = maxAttempts
				s.RetryMinutes = 10
				s.DelayMinutes = 5
			})
			ctx := context.Background()
			checkouts := 0

			for step := 0; step < 80; step++ {
				switch op := rng.Intn(7); op {
				case 0:
					h.abandon(fmt.Sprintf("c-%d", checkouts), time.Duration(rng.Intn(20))*time.Minute)
					checkouts++
				case 1:
					_, err := h.enqueuer.Enqueue(ctx, testShop, h.policy())
					require.NoError(t, err)
				case 2:
					h.caller.mu.Lock()
					h.caller.alwaysFail = rng.Intn(2) == 0
					h.caller.mu.Unlock()
					_, err := h.dispatcher.RunDue(ctx, DispatchOptions{Limit: 1 + rng.Intn(5)})
					require.NoError(t, err)
				case 3:
					if checkouts == 0 {
						continue
					}
					_, err := h.conversion.HandleOrderCreated(ctx, OrderCreated{
						Shop:       testShop,
						CheckoutID: fmt.Sprintf("c-%d", rng.Intn(checkouts)),
						OrderID:    fmt.Sprintf("o-%d", step),
					})
					require.NoError(t, err)
				case 4:
					for _, j := range h.jobs() {
						if j.Status == models.JobStatusCalling {
							status := models.JobStatusCompleted
							if rng.Intn(2) == 0 {
								status = models.JobStatusFailed
							}
							_, err := h.st.ApplyWebhookStatus(ctx, j.ID, status, "status: ended", h.now())
							require.NoError(t, err)
							break
						}
					}
				default:
					h.advance(time.Duration(1+rng.Intn(15)) * time.Minute)
				}

				inFlight := map[string]int{}
				for _, j := range h.jobs() {
					require.LessOrEqual(t, j.Attempts, maxAttempts, "job %s", j.ID)
					if models.IsInFlightJobStatus(j.Status) {
						inFlight[j.CheckoutID]++
						require.LessOrEqual(t, inFlight[j.CheckoutID], 1, "checkout %s at step %d", j.CheckoutID, step)
					}
				}
				perCheckout := map[string]int{}
				for _, j := range h.jobs() {
					perCheckout[j.CheckoutID]++
				}
				for id, n := range perCheckout {
					require.LessOrEqual(t, n, maxAttempts, "jobs for %s", id)
				}
			}
		})
	}
}
