// Package schedule holds the call-window arithmetic and the per-shop
// scheduling policy shared by the enqueuer and the dispatcher.
package schedule

import (
	"strconv"
	"strings"
	"time"
)

const (
	defaultWindowStart = 9 * 60
	defaultWindowEnd   = 19 * 60
)

// NextRunTime returns now+lead when that instant falls inside the daily
// window, otherwise the first window start after now+lead. Malformed "HH:MM" values make the
// whole window fall back to 09:00-19:00. The result keeps now's location.
func NextRunTime(now time.Time, windowStart, windowEnd string, leadMinutes int) time.Time {
	start, end := ParseWindow(windowStart, windowEnd)
	if leadMinutes < 0 {
		leadMinutes = 0
	}

	candidate := now.Add(time.Duration(leadMinutes) * time.Minute)
	lo, hi := start, end
	if lo > hi {
		lo, hi = hi, lo
	}

	m := minuteOfDay(candidate)
	if m >= lo && m <= hi {
		return candidate
	}

	next := atMinute(candidate, start)
	if m >= start {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ParseWindow converts a pair of "HH:MM" strings into minutes of day.
func ParseWindow(windowStart, windowEnd string) (int, int) {
	start, okStart := parseHHMM(windowStart)
	end, okEnd := parseHHMM(windowEnd)
	if !okStart || !okEnd {
		return defaultWindowStart, defaultWindowEnd
	}
	return start, end
}

// ValidHHMM reports whether s is a well-formed "HH:MM" time of day.
func ValidHHMM(s string) bool {
	_, ok := parseHHMM(s)
	return ok
}

func parseHHMM(s string) (int, bool) {
	hh, mm, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, false
	}
	return h*60 + m, true
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func atMinute(day time.Time, minute int) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, minute/60, minute%60, 0, 0, day.Location())
}
