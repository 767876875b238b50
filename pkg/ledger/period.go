package ledger

import (
	"fmt"
	"time"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Boundaries returns the half-open interval [start, end) of the period that
// contains now, computed in loc. Weeks start on Sunday.
func Boundaries(period policy.Period, now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	y, m, d := t.Date()

	switch period {
	case policy.PeriodHourly:
		start := time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
		return start, time.Date(y, m, d, t.Hour()+1, 0, 0, 0, loc)
	case policy.PeriodWeekly:
		start := time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 7)
	case policy.PeriodMonthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}
}

// BucketKey returns the storage key for a target's bucket in the period
// starting at start.
func BucketKey(target policy.Target, period policy.Period, start time.Time) string {
	return fmt.Sprintf("%s|%s|%d", target.Key(), period, start.Unix())
}

// secondsUntil rounds the time remaining until end up to whole seconds.
func secondsUntil(now, end time.Time) time.Duration {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
