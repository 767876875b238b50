package policy

import (
	"time"
)

// TimeWindow restricts when a policy allows actions.
//
// Hours are whole local hours in Timezone. A window with EndHour < StartHour
// runs overnight: {22, 6} covers 22:00 through 05:59. Weekdays is checked
// against the local day of the instant, so 02:00 on a listed day is inside an
// overnight window. A window with StartHour == EndHour covers the whole day.
type TimeWindow struct {
	// StartHour is the first allowed hour (0-23).
	StartHour int `yaml:"start_hour" json:"start_hour" validate:"gte=0,lte=23"`

	// EndHour is the first hour no longer allowed (0-23).
	EndHour int `yaml:"end_hour" json:"end_hour" validate:"gte=0,lte=23"`

	// Weekdays lists the days the window opens (0 = Sunday). Empty means every day.
	Weekdays []time.Weekday `yaml:"weekdays,omitempty" json:"weekdays,omitempty" validate:"dive,gte=0,lte=6"`

	// Timezone is an IANA zone name. Empty means UTC.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// maxWindowSearch bounds the search for the next opening.
const maxWindowSearch = 8 * 24

// Location returns the window's time zone, falling back to UTC when the zone
// cannot be loaded.
func (w *TimeWindow) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Overnight reports whether the window crosses midnight.
func (w *TimeWindow) Overnight() bool {
	return w.EndHour < w.StartHour
}

// Contains reports whether t falls inside the window.
func (w *TimeWindow) Contains(t time.Time) bool {
	local := t.In(w.Location())
	hour := local.Hour()
	day := local.Weekday()

	if !w.dayAllowed(day) {
		return false
	}

	switch {
	case w.StartHour == w.EndHour:
		return true
	case w.Overnight():
		return hour >= w.StartHour || hour < w.EndHour
	default:
		return hour >= w.StartHour && hour < w.EndHour
	}
}

// NextOpen returns the next instant at or after t when the window is open.
// It returns t when the window is already open and the zero time when the
// window never opens (an empty weekday match).
func (w *TimeWindow) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}

	loc := w.Location()
	local := t.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	for i := 0; i < maxWindowSearch; i++ {
		candidate = candidate.Add(time.Hour)
		if w.Contains(candidate) {
			return candidate
		}
	}
	return time.Time{}
}

// RetryAfter returns how long until the window opens again, rounded up to
// whole seconds. It is zero when the window is open.
func (w *TimeWindow) RetryAfter(t time.Time) time.Duration {
	next := w.NextOpen(t)
	if next.IsZero() || !next.After(t) {
		return 0
	}
	d := next.Sub(t)
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

func (w *TimeWindow) dayAllowed(day time.Weekday) bool {
	if len(w.Weekdays) == 0 {
		return true
	}
	for _, d := range w.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}
