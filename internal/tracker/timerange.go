package tracker

import (
	"time"

	"github.com/goodtune/appmon/internal/storage"
)

// TimeRange is one contiguous interval during which the monitored process was
// observed running. End never precedes Start. Ranges are appended in
// chronological order; only the last range is ever extended in place.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Seconds returns the whole seconds covered by the range.
func (r TimeRange) Seconds() int {
	return int(r.End.Sub(r.Start) / time.Second)
}

func rangesFromStorage(stored []storage.TimeRange) []TimeRange {
	ranges := make([]TimeRange, 0, len(stored))
	for _, r := range stored {
		ranges = append(ranges, TimeRange{
			Start: time.Unix(0, r.StartTicks),
			End:   time.Unix(0, r.EndTicks),
		})
	}
	return ranges
}

func rangesToStorage(ranges []TimeRange) []storage.TimeRange {
	stored := make([]storage.TimeRange, 0, len(ranges))
	for _, r := range ranges {
		stored = append(stored, storage.TimeRange{
			StartTicks: r.Start.UnixNano(),
			EndTicks:   r.End.UnixNano(),
		})
	}
	return stored
}
