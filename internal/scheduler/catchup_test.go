package scheduler

import (
	"testing"
	"time"
)

// 2026-08-26 is a Wednesday
var wednesday = time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

func at(base time.Time, hour, minute int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, base.Location())
}

func TestComputeCatchUp(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		lastCheck time.Time
		want      CatchUp
	}{
		{
			name:      "on track, checked after today's slot",
			now:       at(wednesday, 15, 0),
			lastCheck: at(wednesday, 10, 5),
			want:      CatchUpNone,
		},
		{
			name:      "today's slot missed",
			now:       at(wednesday, 15, 0),
			lastCheck: at(wednesday.AddDate(0, 0, -1), 10, 5),
			want:      CatchUpFull,
		},
		{
			name:      "never checked, today's slot passed",
			now:       at(wednesday, 10, 1),
			lastCheck: time.Time{},
			want:      CatchUpFull,
		},
		{
			name:      "yesterday missed, today's slot not yet reached",
			now:       at(wednesday, 8, 0),
			lastCheck: at(wednesday.AddDate(0, 0, -2), 10, 5),
			want:      CatchUpSilent,
		},
		{
			name:      "yesterday checked, today's slot not yet reached",
			now:       at(wednesday, 8, 0),
			lastCheck: at(wednesday.AddDate(0, 0, -1), 10, 5),
			want:      CatchUpNone,
		},
		{
			// 2026-08-30 is a Sunday: its slot does not count as missed.
			name:      "sunday slot passed without check",
			now:       time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC),
			lastCheck: time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC),
			want:      CatchUpNone,
		},
		{
			// Monday morning before the slot: Sunday's miss is not a miss.
			name:      "monday morning after quiet weekend",
			now:       time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC),
			lastCheck: time.Date(2026, 8, 28, 10, 5, 0, 0, time.UTC),
			want:      CatchUpNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeCatchUp(tt.now, tt.lastCheck, 10, 0); got != tt.want {
				t.Errorf("ComputeCatchUp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDailyFireSkipsWeekends(t *testing.T) {
	// Friday 2026-08-28 after the slot: next fire is Monday.
	friday := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	next := nextDailyFire(friday, 10, 0)

	want := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next fire = %v, want %v", next, want)
	}

	// Before the slot on a weekday fires the same day.
	next = nextDailyFire(at(wednesday, 8, 0), 10, 0)
	if !next.Equal(at(wednesday, 10, 0)) {
		t.Errorf("next fire = %v, want same-day slot", next)
	}
}

func TestNextWeeklyFire(t *testing.T) {
	next := nextWeeklyFire(at(wednesday, 8, 0), time.Monday, 11, 0)
	want := time.Date(2026, 8, 31, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next weekly fire = %v, want %v", next, want)
	}

	// On the digest day before the slot, fires the same day.
	monday := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	next = nextWeeklyFire(monday, time.Monday, 11, 0)
	if !next.Equal(time.Date(2026, 8, 31, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("next weekly fire = %v, want same-day slot", next)
	}

	// On the digest day after the slot, fires a week later.
	next = nextWeeklyFire(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), time.Monday, 11, 0)
	if !next.Equal(time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("next weekly fire = %v, want next week's slot", next)
	}
}
