package store

import "time"

// Interval is the time-bucket granularity of the aggregate series, chosen
// adaptively from the span of recorded timestamps.
type Interval string

const (
	IntervalSecond Interval = "second"
	IntervalMinute Interval = "minute"
	IntervalHour   Interval = "hour"
	IntervalDay    Interval = "day"
	IntervalWeek   Interval = "week"
	IntervalMonth  Interval = "month"
)

// intervalThreshold is the minimum bucket count a unit must yield before a
// coarser unit is preferred.
const intervalThreshold = 50

// SelectInterval picks the coarsest unit spanning (min, max) in more than 50
// whole units, falling back unit by unit down to second. ok=false (no events)
// defaults to second.
func SelectInterval(min, max time.Time, ok bool) Interval {
	if !ok {
		return IntervalSecond
	}
	span := max.Sub(min)
	switch {
	case monthsBetween(min, max) > intervalThreshold:
		return IntervalMonth
	case int64(span/(7*24*time.Hour)) > intervalThreshold:
		return IntervalWeek
	case int64(span/(24*time.Hour)) > intervalThreshold:
		return IntervalDay
	case int64(span/time.Hour) > intervalThreshold:
		return IntervalHour
	case int64(span/time.Minute) > intervalThreshold:
		return IntervalMinute
	default:
		return IntervalSecond
	}
}

// monthsBetween counts whole calendar months from a to b.
func monthsBetween(a, b time.Time) int64 {
	months := int64((b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month()))
	if months > 0 && a.AddDate(0, int(months), 0).After(b) {
		months--
	}
	return months
}

// bucketStart truncates t to the start of its bucket. Weeks are epoch-aligned
// 7-day windows, months calendar months; both backends truncate identically.
func bucketStart(t time.Time, interval Interval) time.Time {
	t = t.UTC()
	switch interval {
	case IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case IntervalWeek:
		return time.Unix(t.Unix()/(7*86400)*(7*86400), 0).UTC()
	case IntervalDay:
		return time.Unix(t.Unix()/86400*86400, 0).UTC()
	case IntervalHour:
		return t.Truncate(time.Hour)
	case IntervalMinute:
		return t.Truncate(time.Minute)
	default:
		return t.Truncate(time.Second)
	}
}
