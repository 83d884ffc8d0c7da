package scheduler

import "time"

// CatchUp is the startup decision about a missed daily check
type CatchUp int

const (
	// CatchUpNone means the schedule is on track
	CatchUpNone CatchUp = iota
	// CatchUpFull means today's slot was missed: run a notifying cycle now
	CatchUpFull
	// CatchUpSilent means yesterday's slot was missed but today's has not
	// arrived: record data for trend continuity without posting a stale
	// reminder to the channel.
	CatchUpSilent
)

// ComputeCatchUp decides the startup catch-up action by comparing the last
// successful check against today's and yesterday's scheduled slots.
// Weekend slots do not count as missed; the daily check skips them.
func ComputeCatchUp(now, lastCheck time.Time, hour, minute int) CatchUp {
	todaySlot := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	yesterdaySlot := todaySlot.AddDate(0, 0, -1)

	if !now.Before(todaySlot) && isWeekday(todaySlot) && lastCheck.Before(todaySlot) {
		return CatchUpFull
	}
	if now.Before(todaySlot) && isWeekday(yesterdaySlot) && lastCheck.Before(yesterdaySlot) {
		return CatchUpSilent
	}
	return CatchUpNone
}

func isWeekday(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}

// nextDailyFire returns the next weekday fire time at HH:MM strictly after
// the given time.
func nextDailyFire(after time.Time, hour, minute int) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, after.Location())
	for !next.After(after) || !isWeekday(next) {
		next = next.AddDate(0, 0, 1)
		next = time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, next.Location())
	}
	return next
}

// nextWeeklyFire returns the next fire time on the given weekday at HH:MM
// strictly after the given time.
func nextWeeklyFire(after time.Time, day time.Weekday, hour, minute int) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, after.Location())
	for !next.After(after) || next.Weekday() != day {
		next = next.AddDate(0, 0, 1)
		next = time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, next.Location())
	}
	return next
}
