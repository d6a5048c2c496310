package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// DateFormat is the canonical day key used across all backends.
const DateFormat = "2006-01-02"

// TimeRange is one contiguous active interval in persisted form. Ticks are
// Unix nanoseconds; EndTicks >= StartTicks.
type TimeRange struct {
	StartTicks int64 `json:"start"`
	EndTicks   int64 `json:"end"`
}

// Seconds returns the whole seconds covered by the range.
func (r TimeRange) Seconds() int64 {
	return (r.EndTicks - r.StartTicks) / 1e9
}

// DayRecord is one day's usage: its active ranges and the bonus minutes in
// effect for that day.
type DayRecord struct {
	Date   string      `json:"date"`
	Ranges []TimeRange `json:"ranges"`
	Bonus  int         `json:"bonus"`
}

// UsedSeconds returns the summed length of all ranges in whole seconds.
func (d DayRecord) UsedSeconds() int64 {
	var total int64
	for _, r := range d.Ranges {
		total += r.Seconds()
	}
	return total
}

// Store represents the root storage interface for the history backend.
type Store interface {
	Close() error
	History() HistoryStore
}

// HistoryStore archives finished days for reporting and retention.
type HistoryStore interface {
	ArchiveDay(ctx context.Context, record DayRecord) error
	GetDay(ctx context.Context, date string) (*DayRecord, error)
	ListDays(ctx context.Context, limit int) ([]DayRecord, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}
