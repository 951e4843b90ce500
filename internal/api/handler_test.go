package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recovery-service/config"
	"recovery-service/internal/models"
	"recovery-service/internal/outcome"
	"recovery-service/internal/provider"
	"recovery-service/internal/service"
	"recovery-service/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	triggerSecret = "trigger-s3cret"
	webhookSecret = "hook-s3cret"
	shop          = "shop-a.example"
)

type testServer struct {
	router *gin.Engine
	repo   *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.New()
	checkouts := service.NewCheckoutService(repo)
	enqueuer := service.NewEnqueuer(repo, repo, nil)
	dispatcher := service.NewDispatcher(repo, repo, repo, provider.NewSimulator(1.0, 0), nil)
	scheduler := service.NewScheduler(repo, checkouts, enqueuer, dispatcher, nil, service.SchedulerConfig{
		AbandonAfterMinutes: 60,
		DispatchLimit:       10,
		DispatchGrace:       30 * time.Second,
	})

	h := NewHandler(Deps{
		Repo:          repo,
		Checkouts:     checkouts,
		Scheduler:     scheduler,
		Dispatcher:    dispatcher,
		Conversions:   service.NewConversionService(repo, repo, repo, nil),
		Ingestor:      outcome.NewIngestor(repo, nil, nil),
		Guard:         outcome.NewDeliveryGuard(nil, repo, time.Hour),
		Security:      config.SecurityConfig{TriggerSecret: triggerSecret, WebhookSecret: webhookSecret},
		DispatchGrace: 30 * time.Second,
	})

	router := gin.New()
	h.SetupRoutes(router)
	return &testServer{router: router, repo: repo}
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{"X-Trigger-Secret": triggerSecret})
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ready", nil, nil).Code)
}

func TestAdminRoutesRequireTriggerSecret(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/trigger", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/v1/trigger", nil, map[string]string{"X-Trigger-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.admin(http.MethodPost, "/api/v1/trigger", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSettingsUpdateValidatesWindow(t *testing.T) {
	s := newTestServer(t)

	w := s.admin(http.MethodPut, "/api/v1/merchants/"+shop+"/settings", map[string]interface{}{
		"call_window_start": "9am",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.admin(http.MethodPut, "/api/v1/merchants/"+shop+"/settings", map[string]interface{}{
		"max_attempts": 0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.admin(http.MethodPut, "/api/v1/merchants/"+shop+"/settings", map[string]interface{}{
		"retry_minutes": -5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.admin(http.MethodPut, "/api/v1/merchants/"+shop+"/settings", map[string]interface{}{
		"enabled":           true,
		"retry_minutes":     0,
		"call_window_start": "08:30",
		"currency":          "eur",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.admin(http.MethodGet, "/api/v1/merchants/"+shop+"/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st models.Settings
	decode(t, w, &st)
	assert.True(t, st.Enabled)
	assert.Equal(t, "08:30", st.CallWindowStart)
	assert.Equal(t, "19:00", st.CallWindowEnd)
	assert.Equal(t, "EUR", st.Currency)
	assert.Equal(t, 2, st.MaxAttempts)
	assert.Equal(t, 0, st.RetryMinutes, "zero disables the cooldown")
}

func TestTriggerRecoversAbandonedCheckout(t *testing.T) {
	s := newTestServer(t)

	w := s.admin(http.MethodPut, "/api/v1/merchants/"+shop+"/settings", map[string]interface{}{
		"enabled":           true,
		"delay_minutes":     0,
		"call_window_start": "00:00",
		"call_window_end":   "23:59",
		"assistant_id":      "asst-1",
		"phone_number_id":   "pn-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	abandonedAt := time.Now().Add(-2 * time.Hour)
	w = s.admin(http.MethodPost, "/api/v1/checkouts", map[string]interface{}{
		"checkouts": []models.Checkout{{
			Shop: shop, CheckoutID: "c-1", Phone: "+1 (555) 000-1111",
			ValueCents: 4999, Currency: "usd", Status: models.CheckoutStatusAbandoned,
			CreatedAt: abandonedAt, UpdatedAt: abandonedAt, AbandonedAt: &abandonedAt,
		}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.admin(http.MethodPost, "/api/v1/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary service.TickSummary
	decode(t, w, &summary)
	assert.Equal(t, 1, summary.Enqueued)
	assert.Equal(t, 1, summary.Dispatch.Completed)

	w = s.admin(http.MethodGet, "/api/v1/merchants/"+shop+"/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Jobs []models.CallJob `json:"jobs"`
	}
	decode(t, w, &list)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "c-1", list.Jobs[0].CheckoutID)
	assert.Equal(t, 1, list.Jobs[0].Attempts)
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	s := newTestServer(t)

	w := s.admin(http.MethodGet, "/api/v1/merchants/"+shop+"/jobs?status=ringing", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.admin(http.MethodGet, "/api/v1/merchants/"+shop+"/jobs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertCheckoutsRejectsMissingBody(t *testing.T) {
	s := newTestServer(t)

	w := s.admin(http.MethodPost, "/api/v1/checkouts", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.admin(http.MethodPost, "/api/v1/checkouts", map[string]interface{}{
		"checkouts": []map[string]interface{}{{"shop": shop}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res service.UpsertResult
	decode(t, w, &res)
	assert.Equal(t, 0, res.Upserted)
	assert.Len(t, res.Rejected, 1)
}

func seedCallingJob(t *testing.T, s *testServer) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.repo.CreateJob(context.Background(), &models.CallJob{
		ID: "job-1", Shop: shop, CheckoutID: "c-1", Phone: "+15550001111",
		Status: models.JobStatusCalling, Attempts: 1, ScheduledFor: now,
		Provider: "vapi", ProviderCallID: "call_1", CreatedAt: now, UpdatedAt: now,
	}))
}

func TestProviderWebhook(t *testing.T) {
	s := newTestServer(t)
	seedCallingJob(t, s)

	body := `{"message":{"type":"end-of-call-report","endedReason":"customer-ended-call",
		"call":{"id":"call_1","metadata":{"shop":"` + shop + `","callJobId":"job-1"}},
		"artifact":{"transcript":"AI: Hi\nUser: Bye"}}}`

	w := s.do(http.MethodPost, "/webhooks/provider?secret=nope", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/webhooks/provider?secret="+webhookSecret, "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/webhooks/provider?secret="+webhookSecret, body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first struct {
		OK     bool           `json:"ok"`
		Result outcome.Result `json:"result"`
	}
	decode(t, w, &first)
	assert.True(t, first.OK)
	assert.True(t, first.Result.Matched)

	job, err := s.repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "AI: Hi\nUser: Bye", job.Transcript)

	w = s.do(http.MethodPost, "/webhooks/provider", body, map[string]string{"X-Webhook-Secret": webhookSecret})
	require.Equal(t, http.StatusOK, w.Code)
	var second map[string]interface{}
	decode(t, w, &second)
	assert.Equal(t, true, second["duplicate"])
}

func TestProviderWebhookRepeatedUtterances(t *testing.T) {
	s := newTestServer(t)
	seedCallingJob(t, s)
	url := "/webhooks/provider?secret=" + webhookSecret

	// Without a provider timestamp an identical final transcript is a new utterance.
	plain := `{"message":{"type":"transcript","transcript":"User: Yes.","call":{"id":"call_1"}}}`
	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, url, plain, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var res map[string]interface{}
		decode(t, w, &res)
		assert.Nil(t, res["duplicate"])
	}

	stamped := `{"message":{"type":"transcript","transcript":"User: Sure.","timestamp":1741600000000,"call":{"id":"call_1"}}}`
	w := s.do(http.MethodPost, url, stamped, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, url, stamped, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var again map[string]interface{}
	decode(t, w, &again)
	assert.Equal(t, true, again["duplicate"])

	job, err := s.repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(job.Transcript, "User: Yes."))
	assert.Equal(t, 1, strings.Count(job.Transcript, "User: Sure."))
}

func TestProviderWebhookUnmatchedIsAcknowledged(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/webhooks/provider?secret="+webhookSecret,
		`{"message":{"type":"status-update","status":"ringing","call":{"id":"call_unknown"}}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Result outcome.Result `json:"result"`
	}
	decode(t, w, &res)
	assert.False(t, res.Result.Matched)
	assert.NotEmpty(t, res.Result.Ignored)
}

func TestOrderWebhook(t *testing.T) {
	s := newTestServer(t)
	seedCallingJob(t, s)

	w := s.do(http.MethodPost, "/webhooks/orders", map[string]interface{}{"shop": shop}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	order := map[string]interface{}{
		"shop": shop, "checkout_id": "c-1", "order_id": "o-9", "amount_cents": 4999,
	}
	w = s.do(http.MethodPost, "/webhooks/orders", order, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.ConversionResult
	decode(t, w, &res)
	assert.Equal(t, "job-1", res.AttributedJobID)
	assert.Equal(t, int64(1), res.CanceledJobs)

	w = s.do(http.MethodPost, "/webhooks/orders", order, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.True(t, res.Duplicate)
}

func TestDeleteShop(t *testing.T) {
	s := newTestServer(t)
	seedCallingJob(t, s)

	w := s.admin(http.MethodDelete, "/api/v1/merchants/"+shop, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := s.repo.GetJob(context.Background(), "job-1")
	assert.Error(t, err)
}
