package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/triagewatch/triagewatch/internal/triage"
)

// After any sequence of daily writes the store holds at most 14 dated
// entries, and the surviving entries are the newest dates.
func TestSnapshotEvictionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("store never exceeds the retention window", prop.ForAll(
		func(dayOffsets []int) bool {
			store := createTestStore(t)
			ctx := context.Background()

			newest := ""
			for i, offset := range dayOffsets {
				date := base.AddDate(0, 0, offset).Format("2006-01-02")
				if date > newest {
					newest = date
				}
				err := store.RecordDaily(ctx, date, triage.Aggregate{Total: i})
				if err != nil {
					t.Logf("write failed: %v", err)
					return false
				}
			}

			count, err := store.CountSnapshots(ctx)
			if err != nil {
				t.Logf("count failed: %v", err)
				return false
			}
			if count > snapshotRetention {
				t.Logf("retention exceeded: %d entries", count)
				return false
			}

			// The newest written date always survives eviction.
			if newest != "" {
				if _, err := store.GetSnapshot(ctx, newest); err != nil {
					t.Logf("newest date %s evicted: %v", newest, err)
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 60)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestEvictionKeepsNewestFourteen(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		date := base.AddDate(0, 0, i).Format("2006-01-02")
		if err := store.RecordDaily(ctx, date, triage.Aggregate{Total: i}); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	count, err := store.CountSnapshots(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != snapshotRetention {
		t.Errorf("expected exactly %d entries, got %d", snapshotRetention, count)
	}

	// Oldest six are gone, newest fourteen remain.
	if _, err := store.GetSnapshot(ctx, base.AddDate(0, 0, 5).Format("2006-01-02")); err != ErrSnapshotNotFound {
		t.Errorf("old entry should be evicted, got %v", err)
	}
	if _, err := store.GetSnapshot(ctx, base.AddDate(0, 0, 6).Format("2006-01-02")); err != nil {
		t.Errorf("entry inside the window should survive: %v", err)
	}
	if _, err := store.GetSnapshot(ctx, base.AddDate(0, 0, 19).Format("2006-01-02")); err != nil {
		t.Errorf("newest entry should survive: %v", err)
	}
}
