package gallery

import (
	"math"
	"time"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/generation"
)

const DefaultRetentionDays = 7

type Stats struct {
	Shown         int
	Total         int
	RetentionDays int
	// CleanupInDays counts down to the removal of the oldest record. Zero
	// means the cleanup is due; it is only meaningful when HasOldest is set.
	CleanupInDays int
	HasOldest     bool
}

// ComputeStats summarizes a list the way the gallery header shows it.
func ComputeStats(records []generation.Record, meta *api.Meta, now time.Time) Stats {
	st := Stats{
		Shown:         len(records),
		Total:         len(records),
		RetentionDays: DefaultRetentionDays,
	}
	if meta != nil {
		if meta.Shown != nil {
			st.Shown = *meta.Shown
		}
		if meta.Total != nil {
			st.Total = *meta.Total
		}
		if meta.StorageInfo != nil && meta.StorageInfo.RetentionDays > 0 {
			st.RetentionDays = meta.StorageInfo.RetentionDays
		}
	}

	var oldest time.Time
	for _, r := range records {
		if r.CreatedAt.IsZero() {
			continue
		}
		if oldest.IsZero() || r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt.Time
		}
	}
	if !oldest.IsZero() {
		st.HasOldest = true
		st.CleanupInDays = daysUntil(oldest.AddDate(0, 0, st.RetentionDays), now)
	}
	return st
}

// DaysLeft returns whole days until a completed record expires, rounded up.
// The second result is false for records that do not expire.
func DaysLeft(r generation.Record, retentionDays int, now time.Time) (int, bool) {
	if r.Status != generation.StatusCompleted || r.CreatedAt.IsZero() {
		return 0, false
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return daysUntil(r.CreatedAt.AddDate(0, 0, retentionDays), now), true
}

func daysUntil(deadline, now time.Time) int {
	days := int(math.Ceil(deadline.Sub(now).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}
