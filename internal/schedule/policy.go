package schedule

import (
	"time"

	"recovery-service/internal/models"
)

// Policy is the scheduling configuration for one shop, fetched once per run
// and never mutated by the engine.
type Policy struct {
	Enabled            bool
	DelayMinutes       int
	MaxAttempts        int
	RetryMinutes       int
	MinOrderValueCents int64
	CallWindowStart    string
	CallWindowEnd      string
}

// PolicyFromSettings builds a Policy from persisted shop settings.
func PolicyFromSettings(s models.Settings) Policy {
	p := Policy{
		Enabled:            s.Enabled,
		DelayMinutes:       s.DelayMinutes,
		MaxAttempts:        s.MaxAttempts,
		RetryMinutes:       s.RetryMinutes,
		MinOrderValueCents: s.MinOrderValueCents,
		CallWindowStart:    s.CallWindowStart,
		CallWindowEnd:      s.CallWindowEnd,
	}
	if p.DelayMinutes < 0 {
		p.DelayMinutes = 0
	}
	if p.RetryMinutes < 0 {
		p.RetryMinutes = 0
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// Delay is the minimum time between abandonment and the first call.
func (p Policy) Delay() time.Duration {
	return time.Duration(p.DelayMinutes) * time.Minute
}

// RetryInterval is the wait before a failed attempt is tried again.
func (p Policy) RetryInterval() time.Duration {
	return time.Duration(p.RetryMinutes) * time.Minute
}
