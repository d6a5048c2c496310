package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/appmon/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	dayKeyPrefix = "appmon:day:"
	daysIndexKey = "appmon:days"
)

type historyStore struct {
	client *redis.Client
}

func dayKey(date string) string {
	return dayKeyPrefix + date
}

// ArchiveDay upserts a finished day as a hash and indexes its date.
func (h *historyStore) ArchiveDay(ctx context.Context, record storage.DayRecord) error {
	pipe := h.client.TxPipeline()
	pipe.HSet(ctx, dayKey(record.Date), map[string]interface{}{
		"date":   record.Date,
		"ranges": encodeRanges(record.Ranges),
		"bonus":  record.Bonus,
	})
	pipe.SAdd(ctx, daysIndexKey, record.Date)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive day %s: %w", record.Date, err)
	}
	return nil
}

// GetDay retrieves one archived day.
func (h *historyStore) GetDay(ctx context.Context, date string) (*storage.DayRecord, error) {
	data, err := h.client.HGetAll(ctx, dayKey(date)).Result()
	if err != nil {
		return nil, err
	}
	return parseDayRecord(data)
}

// ListDays returns the most recent archived days, newest first.
func (h *historyStore) ListDays(ctx context.Context, limit int) ([]storage.DayRecord, error) {
	dates, err := h.client.SMembers(ctx, daysIndexKey).Result()
	if err != nil {
		return nil, err
	}

	// ISO dates sort lexicographically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}

	records := make([]storage.DayRecord, 0, len(dates))
	for _, date := range dates {
		record, err := h.GetDay(ctx, date)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// DeleteBefore removes archived days strictly older than the cutoff date.
func (h *historyStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse(storage.DateFormat, cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	dates, err := h.client.SMembers(ctx, daysIndexKey).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, date := range dates {
		if date >= cutoffDate {
			continue
		}
		pipe := h.client.TxPipeline()
		pipe.Del(ctx, dayKey(date))
		pipe.SRem(ctx, daysIndexKey, date)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("delete day %s: %w", date, err)
		}
		deleted++
	}
	return deleted, nil
}

// encodeRanges serializes ranges in the same comma-joined start-end pair
// notation the live state file uses.
func encodeRanges(ranges []storage.TimeRange) string {
	pairs := make([]string, 0, len(ranges))
	for _, r := range ranges {
		pairs = append(pairs, fmt.Sprintf("%d-%d", r.StartTicks, r.EndTicks))
	}
	return strings.Join(pairs, ",")
}

// parseDayRecord converts a Redis hash to DayRecord
func parseDayRecord(data map[string]string) (*storage.DayRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	bonus, err := strconv.Atoi(data["bonus"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse bonus: %w", err)
	}

	record := &storage.DayRecord{
		Date:  data["date"],
		Bonus: bonus,
	}

	if encoded := data["ranges"]; encoded != "" {
		for _, item := range strings.Split(encoded, ",") {
			start, end, ok := strings.Cut(item, "-")
			if !ok {
				return nil, fmt.Errorf("malformed range %q", item)
			}
			startTicks, err := strconv.ParseInt(start, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse range start: %w", err)
			}
			endTicks, err := strconv.ParseInt(end, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse range end: %w", err)
			}
			record.Ranges = append(record.Ranges, storage.TimeRange{StartTicks: startTicks, EndTicks: endTicks})
		}
	}

	return record, nil
}
