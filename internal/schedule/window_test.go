package schedule

import (
	"testing"
	"time"

	"recovery-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestNextRunTime(t *testing.T) {
	tests := []struct {
		name  string
		now   time.Time
		start string
		end   string
		lead  int
		want  time.Time
	}{
		{"inside window", at(10, 10, 0), "09:00", "19:00", 0, at(10, 10, 0)},
		{"after window rolls to tomorrow", at(10, 20, 0), "09:00", "19:00", 0, at(11, 9, 0)},
		{"lead lands inside window", at(10, 8, 0), "09:00", "19:00", 90, at(10, 9, 30)},
		{"before window waits for today's start", at(10, 7, 15), "09:00", "19:00", 0, at(10, 9, 0)},
		{"window end is inclusive", at(10, 19, 0), "09:00", "19:00", 0, at(10, 19, 0)},
		{"lead pushes past window end", at(10, 18, 30), "09:00", "19:00", 60, at(11, 9, 0)},
		{"inverted bounds use min and max", at(10, 12, 0), "19:00", "09:00", 0, at(10, 12, 0)},
		{"malformed start uses default window", at(10, 8, 0), "9am", "19:00", 0, at(10, 9, 0)},
		{"out of range hour uses default window", at(10, 20, 30), "25:00", "26:00", 0, at(11, 9, 0)},
		{"zero width window matches its minute", at(10, 12, 0), "12:00", "12:00", 0, at(10, 12, 0)},
		{"zero width window otherwise waits", at(10, 12, 1), "12:00", "12:00", 0, at(11, 12, 0)},
		{"negative lead treated as zero", at(10, 10, 0), "09:00", "19:00", -30, at(10, 10, 0)},
		{"never earlier than now plus lead", at(10, 7, 0), "09:00", "19:00", 750, at(11, 9, 0)},
		{"lead crossing midnight waits for that day's start", at(10, 23, 0), "09:00", "19:00", 60, at(11, 9, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRunTime(tt.now, tt.start, tt.end, tt.lead)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNextRunTimeKeepsLocation(t *testing.T) {
	loc := time.FixedZone("shop", -5*3600)
	now := time.Date(2026, time.March, 10, 21, 0, 0, 0, loc)

	got := NextRunTime(now, "09:00", "19:00", 0)

	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 11, got.Day())
	assert.Equal(t, 9, got.Hour())
}

func TestParseWindow(t *testing.T) {
	start, end := ParseWindow("08:30", "17:45")
	assert.Equal(t, 8*60+30, start)
	assert.Equal(t, 17*60+45, end)

	start, end = ParseWindow("08:30", "17:5")
	assert.Equal(t, 9*60, start)
	assert.Equal(t, 19*60, end)

	assert.True(t, ValidHHMM("00:00"))
	assert.False(t, ValidHHMM("12:60"))
	assert.False(t, ValidHHMM(""))
}

func TestPolicyFromSettings(t *testing.T) {
	s := models.DefaultSettings("shop-1")
	s.MaxAttempts = 0
	s.RetryMinutes = -5

	p := PolicyFromSettings(s)

	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 0, p.RetryMinutes)
	assert.Equal(t, 30*time.Minute, p.Delay())
	assert.Equal(t, "09:00", p.CallWindowStart)
}
