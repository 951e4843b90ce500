package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"recovery-service/internal/models"
	"recovery-service/internal/provider"
	"recovery-service/internal/store/memory"

	"github.com/stretchr/testify/require"
)

const testShop = "shop-a.example"

var errProviderDown = errors.New("provider unavailable")

type fakeCaller struct {
	mu         sync.Mutex
	calls      []provider.CallRequest
	failNext   int  // fail this many calls, then succeed
	alwaysFail bool
	failWith   error // returned instead of errProviderDown when set
	status     string // terminal status returned synchronously, if any
	delay      time.Duration
	unready    bool
}

func (f *fakeCaller) Name() string { return "fake" }

func (f *fakeCaller) Configured(assistantID, phoneNumberID string) bool {
	return !f.unready && assistantID != "" && phoneNumberID != ""
}

func (f *fakeCaller) CreateCall(_ context.Context, req provider.CallRequest) (provider.CallResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	if f.alwaysFail {
		if f.failWith != nil {
			return provider.CallResult{}, f.failWith
		}
		return provider.CallResult{}, errProviderDown
	}
	if f.failNext > 0 {
		f.failNext--
		return provider.CallResult{}, errProviderDown
	}
	return provider.CallResult{
		ProviderCallID: fmt.Sprintf("call_%d", len(f.calls)),
		Status:         f.status,
	}, nil
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishCallEvent(_ context.Context, eventType string, _ *models.CallJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) PublishCheckoutClosed(_ context.Context, e *models.CheckoutClosedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventType)
	return nil
}

func (p *recordingPublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// harness wires every service to one memory store and a shared clock
type harness struct {
	t      *testing.T
	st     *memory.Store
	caller *fakeCaller
	pub    *recordingPublisher

	checkouts  *CheckoutService
	enqueuer   *Enqueuer
	dispatcher *Dispatcher
	conversion *ConversionService

	mu    sync.Mutex
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		st:     memory.New(),
		caller: &fakeCaller{},
		pub:    &recordingPublisher{},
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.checkouts = NewCheckoutService(h.st)
	h.enqueuer = NewEnqueuer(h.st, h.st, h.pub)
	h.dispatcher = NewDispatcher(h.st, h.st, h.st, h.caller, h.pub)
	h.conversion = NewConversionService(h.st, h.st, h.st, h.pub)

	h.checkouts.now = h.now
	h.enqueuer.now = h.now
	h.dispatcher.now = h.now
	h.conversion.now = h.now

	h.saveSettings(func(s *models.Settings) {})
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

// saveSettings stores an enabled, fully configured shop with an all-day window
func (h *harness) saveSettings(edit func(s *models.Settings)) *models.Settings {
	s := models.DefaultSettings(testShop)
	s.Enabled = true
	s.AssistantID = "asst_1"
	s.PhoneNumberID = "pn_1"
	s.CallWindowStart = "00:00"
	s.CallWindowEnd = "23:59"
	edit(&s)
	require.NoError(h.t, h.st.UpdateSettings(context.Background(), &s))
	return &s
}

func (h *harness) settings() *models.Settings {
	s, err := h.st.GetOrCreateSettings(context.Background(), testShop)
	require.NoError(h.t, err)
	return s
}

// abandon stores an ABANDONED checkout that was abandoned ago before now
func (h *harness) abandon(id string, ago time.Duration) {
	at := h.now().Add(-ago)
	require.NoError(h.t, h.st.UpsertCheckout(context.Background(), &models.Checkout{
		Shop:         testShop,
		CheckoutID:   id,
		Phone:        "+15550001111",
		CustomerName: "Ada",
		ValueCents:   5000,
		Currency:     "USD",
		Status:       models.CheckoutStatusAbandoned,
		CreatedAt:    at,
		UpdatedAt:    at,
		AbandonedAt:  &at,
	}))
}

func (h *harness) jobs() []models.CallJob {
	jobs, err := h.st.ListJobs(context.Background(), testShop, "", 1000)
	require.NoError(h.t, err)
	return jobs
}

func (h *harness) onlyJob() models.CallJob {
	jobs := h.jobs()
	require.Len(h.t, jobs, 1)
	return jobs[0]
}
