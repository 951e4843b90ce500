// Package memory is an in-process implementation of store.Repository.
// Safe for concurrent access. Used by tests and by STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"recovery-service/internal/models"
	"recovery-service/internal/store"
)

var _ store.Repository = (*Store)(nil)

type checkoutKey struct {
	shop string
	id   string
}

// Store keeps every table in maps guarded by one mutex, so each method is
// atomic in the same way a single-row SQL statement is.
type Store struct {
	mu sync.RWMutex

	checkouts map[checkoutKey]*models.Checkout
	jobs      map[string]*models.CallJob
	settings  map[string]*models.Settings
	events    map[string]models.ProcessedEvent

	// seq orders jobs created within the same instant.
	seq    int64
	jobSeq map[string]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		checkouts: make(map[checkoutKey]*models.Checkout),
		jobs:      make(map[string]*models.CallJob),
		settings:  make(map[string]*models.Settings),
		events:    make(map[string]models.ProcessedEvent),
		jobSeq:    make(map[string]int64),
	}
}

// Ping always succeeds.
func (m *Store) Ping(_ context.Context) error { return nil }

// Checkouts

func (m *Store) UpsertCheckout(_ context.Context, c *models.Checkout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := checkoutKey{c.Shop, c.CheckoutID}
	existing, ok := m.checkouts[key]
	if !ok {
		cp := *c
		m.checkouts[key] = &cp
		return nil
	}

	next := *c
	next.CreatedAt = existing.CreatedAt
	next.RecoveredAt = existing.RecoveredAt
	next.RecoveredOrderID = existing.RecoveredOrderID
	next.RecoveredAmountCents = existing.RecoveredAmountCents

	switch {
	case existing.Status == models.CheckoutStatusConverted || existing.Status == models.CheckoutStatusRecovered:
		next.Status = existing.Status
		next.AbandonedAt = nil
	case existing.Status == models.CheckoutStatusAbandoned &&
		(c.Status == models.CheckoutStatusOpen || c.Status == models.CheckoutStatusAbandoned):
		next.Status = models.CheckoutStatusAbandoned
		if existing.AbandonedAt != nil {
			next.AbandonedAt = existing.AbandonedAt
		}
	case c.Status != models.CheckoutStatusAbandoned:
		next.AbandonedAt = nil
	}

	m.checkouts[key] = &next
	return nil
}

func (m *Store) GetCheckout(_ context.Context, shop, checkoutID string) (*models.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.checkouts[checkoutKey{shop, checkoutID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) MarkAbandoned(_ context.Context, shop string, createdBefore, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, c := range m.checkouts {
		if key.shop != shop || c.Status != models.CheckoutStatusOpen || c.CreatedAt.After(createdBefore) {
			continue
		}
		at := now
		c.Status = models.CheckoutStatusAbandoned
		c.AbandonedAt = &at
		c.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *Store) ListCallCandidates(_ context.Context, shop string, minValueCents int64, abandonedBefore time.Time) ([]models.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Checkout
	for key, c := range m.checkouts {
		if key.shop != shop || c.Status != models.CheckoutStatusAbandoned || c.Phone == "" {
			continue
		}
		if c.ValueCents < minValueCents || c.AbandonedAt == nil || c.AbandonedAt.After(abandonedBefore) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].AbandonedAt.Before(*out[k].AbandonedAt)
	})
	return out, nil
}

func (m *Store) CloseCheckout(_ context.Context, shop, checkoutID, status, orderID string, amountCents int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkouts[checkoutKey{shop, checkoutID}]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	c.AbandonedAt = nil
	c.UpdatedAt = at
	if status == models.CheckoutStatusRecovered {
		t := at
		c.RecoveredAt = &t
		c.RecoveredOrderID = orderID
		c.RecoveredAmountCents = amountCents
	}
	return nil
}

// Call jobs

func (m *Store) CreateJob(_ context.Context, job *models.CallJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if models.IsInFlightJobStatus(job.Status) {
		for _, j := range m.jobs {
			if j.Shop == job.Shop && j.CheckoutID == job.CheckoutID && models.IsInFlightJobStatus(j.Status) {
				return store.ErrInFlightExists
			}
		}
	}

	cp := *job
	m.jobs[job.ID] = &cp
	m.seq++
	m.jobSeq[job.ID] = m.seq
	return nil
}

func (m *Store) GetJob(_ context.Context, id string) (*models.CallJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Store) JobHistory(_ context.Context, shop, checkoutID string) (store.JobHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var h store.JobHistory
	for _, j := range m.jobsOf(shop, checkoutID) {
		h.Total++
		if models.IsInFlightJobStatus(j.Status) {
			h.InFlight++
		}
	}
	if latest := m.latest(shop, checkoutID, false); latest != nil {
		cp := *latest
		h.Latest = &cp
	}
	return h, nil
}

func (m *Store) ListDueJobs(_ context.Context, shop string, dueBefore time.Time, limit int) ([]models.CallJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.CallJob
	for _, j := range m.jobs {
		if j.Status != models.JobStatusQueued || j.ScheduledFor.After(dueBefore) {
			continue
		}
		if shop != "" && j.Shop != shop {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].ScheduledFor.Equal(out[k].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[k].ScheduledFor)
		}
		return m.jobSeq[out[i].ID] < m.jobSeq[out[k].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListJobs(_ context.Context, shop, status string, limit int) ([]models.CallJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.CallJob
	for _, j := range m.jobs {
		if j.Shop != shop || (status != "" && j.Status != status) {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		return m.jobSeq[out[i].ID] > m.jobSeq[out[k].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ClaimJob(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusQueued || j.ProviderCallID != "" {
		return false, nil
	}
	j.Status = models.JobStatusCalling
	j.Attempts++
	j.UpdatedAt = now
	return true, nil
}

func (m *Store) RecordProviderCall(_ context.Context, id, provider, providerCallID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.ProviderCallID != "" {
		return false, nil
	}
	j.Provider = provider
	j.ProviderCallID = providerCallID
	if j.Outcome == "" {
		j.Outcome = "CALL_PLACED"
	}
	j.UpdatedAt = now
	return true, nil
}

func (m *Store) RetryJob(_ context.Context, id string, scheduledFor time.Time, outcome string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusCalling {
		return false, nil
	}
	j.Status = models.JobStatusQueued
	j.ScheduledFor = scheduledFor
	j.Outcome = outcome
	j.UpdatedAt = now
	return true, nil
}

func (m *Store) FinishJob(_ context.Context, id, fromStatus, toStatus, outcome string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status != fromStatus {
		return false, nil
	}
	j.Status = toStatus
	j.Outcome = outcome
	j.UpdatedAt = now
	return true, nil
}

func (m *Store) SetQueuedOutcome(_ context.Context, id, outcome string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusQueued {
		return false, nil
	}
	j.Outcome = outcome
	j.UpdatedAt = now
	return true, nil
}

func (m *Store) ApplyWebhookStatus(_ context.Context, id, status, outcome string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	switch {
	case models.IsTerminalJobStatus(status):
		if j.Status == models.JobStatusCanceled {
			return false, nil
		}
	case status == models.JobStatusCalling:
		if j.Status != models.JobStatusCalling {
			return false, nil
		}
	default:
		return false, nil
	}
	j.Status = status
	j.Outcome = outcome
	j.UpdatedAt = now
	return true, nil
}

func (m *Store) MergeOutcome(_ context.Context, id string, p store.OutcomePatch, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	mergeString(&j.Outcome, p.Outcome)
	mergeString(&j.EndedReason, p.EndedReason)
	mergeString(&j.RecordingURL, p.RecordingURL)
	switch {
	case p.Transcript != "":
		j.Transcript = p.Transcript
	case p.AppendTranscript == "":
	case j.Transcript == "":
		j.Transcript = p.AppendTranscript
	default:
		j.Transcript = j.Transcript + "\n" + p.AppendTranscript
	}
	mergeString(&j.Sentiment, p.Sentiment)
	mergeString(&j.TagsCSV, p.TagsCSV)
	mergeString(&j.Reason, p.Reason)
	mergeString(&j.NextAction, p.NextAction)
	mergeString(&j.FollowUp, p.FollowUp)
	mergeString(&j.AnalysisJSON, p.AnalysisJSON)
	j.UpdatedAt = now
	return nil
}

func (m *Store) FindLatestJob(_ context.Context, shop, checkoutID string) (*models.CallJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j := m.latest(shop, checkoutID, false)
	if j == nil {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Store) FindJobByProviderCallID(_ context.Context, providerCallID string) (*models.CallJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if providerCallID == "" {
		return nil, store.ErrNotFound
	}
	var found *models.CallJob
	for _, j := range m.jobs {
		if j.ProviderCallID != providerCallID {
			continue
		}
		if found == nil || m.newer(j, found) {
			found = j
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *Store) CancelInFlightJobs(_ context.Context, shop, checkoutID, outcome string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, j := range m.jobsOf(shop, checkoutID) {
		if !models.IsInFlightJobStatus(j.Status) {
			continue
		}
		j.Status = models.JobStatusCanceled
		j.Outcome = outcome
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *Store) AttributeLatestProviderJob(_ context.Context, shop, checkoutID, orderID string, amountCents int64, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.latest(shop, checkoutID, true)
	if j == nil {
		return "", nil
	}
	t := at
	j.AttributedAt = &t
	j.AttributedOrderID = orderID
	j.AttributedAmountCents = amountCents
	j.UpdatedAt = at
	return j.ID, nil
}

// jobsOf and latest expect the caller to hold the lock.
func (m *Store) jobsOf(shop, checkoutID string) []*models.CallJob {
	var out []*models.CallJob
	for _, j := range m.jobs {
		if j.Shop == shop && j.CheckoutID == checkoutID {
			out = append(out, j)
		}
	}
	return out
}

func (m *Store) latest(shop, checkoutID string, providerBacked bool) *models.CallJob {
	var found *models.CallJob
	for _, j := range m.jobsOf(shop, checkoutID) {
		if providerBacked && j.ProviderCallID == "" {
			continue
		}
		if found == nil || m.newer(j, found) {
			found = j
		}
	}
	return found
}

func (m *Store) newer(a, b *models.CallJob) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return m.jobSeq[a.ID] > m.jobSeq[b.ID]
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Settings

func (m *Store) GetOrCreateSettings(_ context.Context, shop string) (*models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[shop]
	if !ok {
		d := models.DefaultSettings(shop)
		now := time.Now()
		d.CreatedAt, d.UpdatedAt = now, now
		s = &d
		m.settings[shop] = s
	}
	cp := *s
	return &cp, nil
}

func (m *Store) UpdateSettings(_ context.Context, st *models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cp := *st
	if existing, ok := m.settings[st.Shop]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.settings[st.Shop] = &cp
	st.CreatedAt, st.UpdatedAt = cp.CreatedAt, cp.UpdatedAt
	return nil
}

func (m *Store) ListEnabledShops(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var shops []string
	for shop, s := range m.settings {
		if s.Enabled {
			shops = append(shops, shop)
		}
	}
	sort.Strings(shops)
	return shops, nil
}

// Events and teardown

func (m *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.events[eventID]
	return ok, nil
}

func (m *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[eventID]; !ok {
		m.events[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: time.Now()}
	}
	return nil
}

func (m *Store) DeleteShopData(_ context.Context, shop string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.checkouts {
		if key.shop == shop {
			delete(m.checkouts, key)
		}
	}
	for id, j := range m.jobs {
		if j.Shop == shop {
			delete(m.jobs, id)
			delete(m.jobSeq, id)
		}
	}
	delete(m.settings, shop)
	return nil
}
