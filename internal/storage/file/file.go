// Package file implements the live usage.data adapter: a small UTF-8 text
// file holding only the current day's state. Layout is three newline-separated
// lines: the ISO date, the comma-joined start-end tick pairs (empty when the
// day has no ranges yet), and the bonus minutes.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/appmon/internal/storage"
)

// FileName is the fixed name of the live state file inside the data directory.
const FileName = "usage.data"

// Adapter loads and saves the current day's usage state.
type Adapter struct {
	dir string
}

// NewAdapter creates an adapter rooted at the given data directory.
func NewAdapter(dataDir string) *Adapter {
	return &Adapter{dir: dataDir}
}

// Path returns the full path of the state file.
func (a *Adapter) Path() string {
	return filepath.Join(a.dir, FileName)
}

// Load reads the state file and returns the record for today. Ranges are
// loaded only when the stored date equals today's date; a stale file is
// ignored, not deleted. The bonus line is applied whenever it is present,
// even for a stale date. A missing file yields an empty record for today.
func (a *Adapter) Load(now time.Time) (storage.DayRecord, error) {
	record := storage.DayRecord{Date: now.Format(storage.DateFormat)}

	data, err := os.ReadFile(a.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return record, nil
		}
		return record, fmt.Errorf("read %s: %w", FileName, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 {
		return record, fmt.Errorf("parse %s: expected at least 2 lines, got %d", FileName, len(lines))
	}

	stored, err := time.ParseInLocation(storage.DateFormat, lines[0], now.Location())
	if err != nil {
		return record, fmt.Errorf("parse %s date line: %w", FileName, err)
	}

	if sameDate(stored, now) && lines[1] != "" {
		ranges, err := parseRanges(lines[1])
		if err != nil {
			return record, fmt.Errorf("parse %s ranges line: %w", FileName, err)
		}
		record.Ranges = ranges
	}

	if len(lines) > 2 {
		bonus, err := strconv.Atoi(strings.TrimSpace(lines[2]))
		if err != nil {
			// Drop any ranges parsed above: a malformed file falls back to
			// a fully empty state.
			return storage.DayRecord{Date: record.Date}, fmt.Errorf("parse %s bonus line: %w", FileName, err)
		}
		record.Bonus = bonus
	}

	return record, nil
}

// Save writes the record, but only when lastPoll falls on the same calendar
// day as now. This prevents clobbering a new day's file with pre-rollover
// state during shutdown. The data directory is created if absent.
func (a *Adapter) Save(record storage.DayRecord, lastPoll, now time.Time) error {
	if !sameDate(lastPoll, now) {
		return nil
	}

	if err := storage.EnsureDir(a.dir); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	pairs := make([]string, 0, len(record.Ranges))
	for _, r := range record.Ranges {
		pairs = append(pairs, fmt.Sprintf("%d-%d", r.StartTicks, r.EndTicks))
	}

	content := strings.Join([]string{
		now.Format(storage.DateFormat),
		strings.Join(pairs, ","),
		strconv.Itoa(record.Bonus),
	}, "\n") + "\n"

	if err := os.WriteFile(a.Path(), []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", FileName, err)
	}

	return nil
}

func parseRanges(line string) ([]storage.TimeRange, error) {
	items := strings.Split(line, ",")
	ranges := make([]storage.TimeRange, 0, len(items))
	for _, item := range items {
		start, end, ok := strings.Cut(item, "-")
		if !ok {
			return nil, fmt.Errorf("malformed range %q", item)
		}
		startTicks, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed range start %q: %w", item, err)
		}
		endTicks, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed range end %q: %w", item, err)
		}
		ranges = append(ranges, storage.TimeRange{StartTicks: startTicks, EndTicks: endTicks})
	}
	return ranges, nil
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
