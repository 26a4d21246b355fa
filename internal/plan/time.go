// Package plan builds the daily activity plan and owns the local-calendar
// arithmetic shared by the schedulers.
package plan

import "time"

// TodayStart returns local midnight of now's calendar day, truncated to whole
// seconds so persisted plan dates compare without millisecond drift.
func TodayStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// NextMidnight returns the start of the next local calendar day. Across DST
// transitions this is the wall-clock midnight, so a day may span 23 or 25
// hours; session offsets stay wall-clock-minute-based.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// DateString formats now as YYYY-MM-DD in the given zone.
func DateString(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

// ClockTime returns the instant reading the given wall-clock minute offset on
// day's calendar date. On a DST transition day this keeps the clock reading
// rather than the elapsed offset, matching NextMidnight.
func ClockTime(day time.Time, minutes int, loc *time.Location) time.Time {
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, minutes, 0, 0, loc)
}

// MinutesSinceMidnight returns now's wall-clock offset into the local day.
func MinutesSinceMidnight(now time.Time, loc *time.Location) int {
	local := now.In(loc)
	return local.Hour()*60 + local.Minute()
}

// IsStale reports whether a persisted plan date (unix ms of its local
// midnight) belongs to an earlier day than todayStart.
func IsStale(planDateMs int64, todayStart time.Time) bool {
	if planDateMs == 0 {
		return true
	}
	return planDateMs < todayStart.UnixMilli()
}
