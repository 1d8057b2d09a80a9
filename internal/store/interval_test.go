package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var intervalBase = time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)

func TestSelectInterval_NoEvents(t *testing.T) {
	require.Equal(t, IntervalSecond, SelectInterval(time.Time{}, time.Time{}, false))
}

func TestSelectInterval_SingleInstant(t *testing.T) {
	require.Equal(t, IntervalSecond, SelectInterval(intervalBase, intervalBase, true))
}

func TestSelectInterval_SixtyMonths(t *testing.T) {
	max := intervalBase.AddDate(0, 60, 0)
	require.Equal(t, IntervalMonth, SelectInterval(intervalBase, max, true))
}

func TestSelectInterval_SixtyWeeks(t *testing.T) {
	max := intervalBase.Add(60 * 7 * 24 * time.Hour)
	require.Equal(t, IntervalWeek, SelectInterval(intervalBase, max, true))
}

func TestSelectInterval_SixtyDays(t *testing.T) {
	max := intervalBase.Add(60 * 24 * time.Hour)
	require.Equal(t, IntervalDay, SelectInterval(intervalBase, max, true))
}

func TestSelectInterval_TenDays(t *testing.T) {
	// 10 days is only 10 day-buckets but 240 hour-buckets, so the chain
	// settles on hour.
	max := intervalBase.Add(10 * 24 * time.Hour)
	require.Equal(t, IntervalHour, SelectInterval(intervalBase, max, true))
}

func TestSelectInterval_TwoHours(t *testing.T) {
	max := intervalBase.Add(2 * time.Hour)
	require.Equal(t, IntervalMinute, SelectInterval(intervalBase, max, true))
}

func TestSelectInterval_ThirtySeconds(t *testing.T) {
	max := intervalBase.Add(30 * time.Second)
	require.Equal(t, IntervalSecond, SelectInterval(intervalBase, max, true))
}

func TestSelectInterval_ThresholdNotExceeded(t *testing.T) {
	// Exactly 50 whole units must not pick that unit.
	max := intervalBase.Add(50 * time.Minute)
	require.Equal(t, IntervalSecond, SelectInterval(intervalBase, max, true))
}

func TestMonthsBetween(t *testing.T) {
	a := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	require.EqualValues(t, 0, monthsBetween(a, a))
	require.EqualValues(t, 12, monthsBetween(a, a.AddDate(1, 0, 0)))
	// Feb 28 is one day short of a whole month after Jan 31.
	require.EqualValues(t, 0, monthsBetween(a, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)))
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 45, 500_000_000, time.UTC)

	require.Equal(t, time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC), bucketStart(ts, IntervalSecond))
	require.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), bucketStart(ts, IntervalMinute))
	require.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), bucketStart(ts, IntervalHour))
	require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), bucketStart(ts, IntervalDay))
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), bucketStart(ts, IntervalMonth))

	week := bucketStart(ts, IntervalWeek)
	require.Zero(t, week.Unix()%(7*86400))
	require.False(t, week.After(ts))
	require.True(t, ts.Sub(week) < 7*24*time.Hour)
}
