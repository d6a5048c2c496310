package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/appmon/internal/config"
	"github.com/goodtune/appmon/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // full "host:port" address
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store
}

func TestHistoryStore_ArchiveAndGet(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	history := store.History()

	record := storage.DayRecord{
		Date: "2024-01-02",
		Ranges: []storage.TimeRange{
			{StartTicks: 100, EndTicks: 60000000100},
			{StartTicks: 90000000000, EndTicks: 90000000000},
		},
		Bonus: 20,
	}

	if err := history.ArchiveDay(ctx, record); err != nil {
		t.Fatalf("ArchiveDay failed: %v", err)
	}

	got, err := history.GetDay(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("GetDay failed: %v", err)
	}
	if got.Bonus != 20 {
		t.Errorf("bonus = %d, want 20", got.Bonus)
	}
	if len(got.Ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(got.Ranges))
	}
	for i, r := range record.Ranges {
		if got.Ranges[i] != r {
			t.Errorf("range %d = %+v, want %+v", i, got.Ranges[i], r)
		}
	}
}

func TestHistoryStore_GetMissingDay(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.History().GetDay(context.Background(), "2020-01-01")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryStore_ListDaysNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	history := store.History()

	for _, date := range []string{"2024-02-01", "2024-01-30", "2024-01-31"} {
		if err := history.ArchiveDay(ctx, storage.DayRecord{Date: date}); err != nil {
			t.Fatalf("ArchiveDay %s failed: %v", date, err)
		}
	}

	days, err := history.ListDays(ctx, 2)
	if err != nil {
		t.Fatalf("ListDays failed: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Date != "2024-02-01" || days[1].Date != "2024-01-31" {
		t.Errorf("got order %s, %s; want newest first", days[0].Date, days[1].Date)
	}
}

func TestHistoryStore_DeleteBefore(t *testing.T) {
	store := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	history := store.History()

	for _, date := range []string{"2024-01-01", "2024-01-15", "2024-02-01"} {
		if err := history.ArchiveDay(ctx, storage.DayRecord{Date: date, Bonus: 1}); err != nil {
			t.Fatalf("ArchiveDay %s failed: %v", date, err)
		}
	}

	deleted, err := history.DeleteBefore(ctx, "2024-01-20")
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	days, err := history.ListDays(ctx, 0)
	if err != nil {
		t.Fatalf("ListDays failed: %v", err)
	}
	if len(days) != 1 || days[0].Date != "2024-02-01" {
		t.Errorf("remaining = %+v, want only 2024-02-01", days)
	}
}
