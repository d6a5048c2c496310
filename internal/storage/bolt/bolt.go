// Package bolt implements the history store on a single-file bbolt database.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/appmon/internal/storage"
	"go.etcd.io/bbolt"
)

const bucketDays = "usage_days"

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDays)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketDays, err)
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// History returns the history store.
func (s *Store) History() storage.HistoryStore { return &historyStore{db: s.db} }

type historyStore struct {
	db *bbolt.DB
}

// ArchiveDay upserts a finished day keyed by its date.
func (h *historyStore) ArchiveDay(ctx context.Context, record storage.DayRecord) error {
	data, err := marshal(record)
	if err != nil {
		return err
	}
	return h.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return fmt.Errorf("days bucket missing")
		}
		return b.Put([]byte(record.Date), data)
	})
}

// GetDay retrieves one archived day.
func (h *historyStore) GetDay(ctx context.Context, date string) (*storage.DayRecord, error) {
	var record *storage.DayRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get([]byte(date))
		if data == nil {
			return storage.ErrNotFound
		}
		var rec storage.DayRecord
		if err := unmarshal(data, &rec); err != nil {
			return err
		}
		record = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListDays returns the most recent archived days, newest first. The ISO date
// key sorts lexicographically, so a reverse cursor walk is chronological.
func (h *historyStore) ListDays(ctx context.Context, limit int) ([]storage.DayRecord, error) {
	var records []storage.DayRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec storage.DayRecord
			if err := unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteBefore removes archived days strictly older than the cutoff date.
func (h *historyStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse(storage.DateFormat, cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, h.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil && string(k) < cutoffDate; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
