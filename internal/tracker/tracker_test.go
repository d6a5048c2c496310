package tracker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/appmon/internal/procwatch"
	"github.com/goodtune/appmon/internal/storage"
	"github.com/rs/zerolog"
)

// midweek noon, a Wednesday
var wednesday = time.Date(2024, time.March, 13, 12, 0, 0, 0, time.Local)

type fakeLister struct {
	records []procwatch.Record
	err     error
}

func (l *fakeLister) List(_ context.Context, _ string) ([]procwatch.Record, error) {
	return l.records, l.err
}

func (l *fakeLister) setRunning(running bool) {
	if running {
		l.records = []procwatch.Record{{Name: "game", CommandLine: "game --fullscreen"}}
	} else {
		l.records = nil
	}
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Show(_, message string, _ time.Duration) {
	n.messages = append(n.messages, message)
}

type fakeHistory struct {
	archived []storage.DayRecord
	err      error
}

func (h *fakeHistory) ArchiveDay(_ context.Context, record storage.DayRecord) error {
	if h.err != nil {
		return h.err
	}
	h.archived = append(h.archived, record)
	return nil
}

func (h *fakeHistory) GetDay(context.Context, string) (*storage.DayRecord, error) {
	return nil, storage.ErrNotFound
}

func (h *fakeHistory) ListDays(context.Context, int) ([]storage.DayRecord, error) {
	return nil, nil
}

func (h *fakeHistory) DeleteBefore(context.Context, string) (int, error) {
	return 0, nil
}

type fixture struct {
	tracker  *Tracker
	clock    *TestClock
	lister   *fakeLister
	notifier *fakeNotifier
	history  *fakeHistory
}

func newFixture(t *testing.T, cfg Config, record storage.DayRecord) *fixture {
	t.Helper()

	if cfg.ProcessName == "" {
		cfg.ProcessName = "game"
	}
	if cfg.WeekdayMinutes == 0 {
		cfg.WeekdayMinutes = 120
	}
	if cfg.WeekendMinutes == 0 {
		cfg.WeekendMinutes = 180
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Message == "" {
		cfg.Message = "Stop"
	}

	f := &fixture{
		clock:    &TestClock{CurrentTime: wednesday},
		lister:   &fakeLister{},
		notifier: &fakeNotifier{},
		history:  &fakeHistory{},
	}
	f.tracker = New(cfg, f.lister, f.notifier, f.history, f.clock, record, zerolog.Nop())
	return f
}

func (f *fixture) poll() {
	f.tracker.Poll(context.Background())
}

// rangesSeconds returns the summed range lengths in the current snapshot.
func (f *fixture) snapshotSeconds() int64 {
	record, _ := f.tracker.Snapshot()
	return record.UsedSeconds()
}

func TestThreeConsecutiveMatchingPolls(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{})
	f.lister.setRunning(true)

	f.poll()

	record, _ := f.tracker.Snapshot()
	if len(record.Ranges) != 1 {
		t.Fatalf("after first poll expected 1 range, got %d", len(record.Ranges))
	}
	if got := record.Ranges[0].Seconds(); got != 0 {
		t.Errorf("first range should be zero-length, got %ds", got)
	}
	if !f.tracker.running {
		t.Error("tracker should be running after first matching poll")
	}

	f.clock.Advance(time.Minute)
	f.poll()
	f.clock.Advance(time.Minute)
	f.poll()

	record, _ = f.tracker.Snapshot()
	if len(record.Ranges) != 1 {
		t.Fatalf("expected a single extended range, got %d", len(record.Ranges))
	}
	if got := record.UsedSeconds(); got != 120 {
		t.Errorf("range spans %ds, want 120", got)
	}
	if f.tracker.usedSeconds != 120 {
		t.Errorf("usedSeconds = %d, want 120", f.tracker.usedSeconds)
	}
	if len(f.notifier.messages) != 0 {
		t.Errorf("2 minutes of 120 allowed must not warn, got %v", f.notifier.messages)
	}
}

// TestUsedSecondsMatchesRanges drives a mixed run/stop/run sequence and checks
// the accumulator against the ranges at every step.
func TestUsedSecondsMatchesRanges(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{})

	steps := []bool{true, true, false, false, true, true, true, false, true}
	for i, running := range steps {
		f.lister.setRunning(running)
		f.poll()

		if got, want := int64(f.tracker.usedSeconds), f.snapshotSeconds(); got != want {
			t.Fatalf("step %d: usedSeconds = %d, ranges sum = %d", i, got, want)
		}

		f.clock.Advance(time.Minute)
	}

	record, _ := f.tracker.Snapshot()
	if len(record.Ranges) != 3 {
		t.Errorf("expected 3 ranges from 3 run stretches, got %d", len(record.Ranges))
	}
}

func TestOverQuotaWarnsEveryPoll(t *testing.T) {
	f := newFixture(t, Config{WeekdayMinutes: 1, Message: "Time to stop"}, storage.DayRecord{})
	f.lister.setRunning(true)

	// First poll opens the range; two more accumulate 120s = 2 minutes > 1.
	for i := 0; i < 3; i++ {
		f.poll()
		f.clock.Advance(time.Minute)
	}

	if len(f.notifier.messages) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(f.notifier.messages))
	}
	msg := f.notifier.messages[0]
	if !strings.Contains(msg, "1 minutes allowed") || !strings.Contains(msg, "2 minutes used") {
		t.Errorf("warning must name allowed and used minutes, got %q", msg)
	}
	if !strings.Contains(msg, "Time to stop") {
		t.Errorf("warning must carry the configured message, got %q", msg)
	}

	// Still over quota: the warning fires again on the next poll.
	f.poll()
	if len(f.notifier.messages) != 2 {
		t.Errorf("expected a warning per over-quota poll, got %d", len(f.notifier.messages))
	}
}

func TestBonusExtendsAllowance(t *testing.T) {
	f := newFixture(t, Config{WeekdayMinutes: 1}, storage.DayRecord{Bonus: 5})
	f.lister.setRunning(true)

	for i := 0; i < 4; i++ {
		f.poll()
		f.clock.Advance(time.Minute)
	}

	// 3 minutes used, allowance 1+5: no warning yet.
	if len(f.notifier.messages) != 0 {
		t.Errorf("expected no warning under quota+bonus, got %v", f.notifier.messages)
	}
}

func TestKeywordMismatchIsNotRunning(t *testing.T) {
	f := newFixture(t, Config{Keyword: "foo"}, storage.DayRecord{})
	f.lister.records = []procwatch.Record{{Name: "game", CommandLine: "bar", ExecutablePath: "baz"}}

	f.poll()

	if f.tracker.running {
		t.Error("keyword mismatch must not count as running")
	}
	if record, _ := f.tracker.Snapshot(); len(record.Ranges) != 0 {
		t.Errorf("expected no ranges, got %d", len(record.Ranges))
	}
}

func TestStalePollForcesIdleKeepsUsage(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{})
	f.lister.setRunning(true)

	f.poll()
	f.clock.Advance(time.Minute)
	f.poll()

	usedBefore := f.tracker.usedSeconds
	rangesBefore, _ := f.tracker.Snapshot()

	// 100s gap: 40s past the expected poll time, beyond the 30s grace.
	f.clock.Advance(100 * time.Second)
	f.lister.setRunning(false)
	f.poll()

	if f.tracker.running {
		t.Error("stale poll must force idle")
	}
	if f.tracker.usedSeconds != usedBefore {
		t.Errorf("usedSeconds changed across stale poll: %d -> %d", usedBefore, f.tracker.usedSeconds)
	}
	record, _ := f.tracker.Snapshot()
	if len(record.Ranges) != len(rangesBefore.Ranges) {
		t.Errorf("ranges changed across stale poll: %d -> %d", len(rangesBefore.Ranges), len(record.Ranges))
	}
}

func TestStalePollWithMatchOpensNewRange(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{})
	f.lister.setRunning(true)

	f.poll()
	f.clock.Advance(time.Minute)
	f.poll()

	usedBefore := f.tracker.usedSeconds

	// Process still visible after a long sleep: the gap must not be counted.
	f.clock.Advance(10 * time.Minute)
	f.poll()

	if f.tracker.usedSeconds != usedBefore {
		t.Errorf("sleep gap was counted: %d -> %d", usedBefore, f.tracker.usedSeconds)
	}
	record, _ := f.tracker.Snapshot()
	if len(record.Ranges) != 2 {
		t.Errorf("expected a fresh range after the gap, got %d ranges", len(record.Ranges))
	}
	if !f.tracker.running {
		t.Error("process is visible, tracker should be running again")
	}
}

func TestDayRolloverResetsAndArchives(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{Bonus: 10})
	f.lister.setRunning(true)

	// Accumulate 30 minutes on Wednesday.
	for i := 0; i <= 30; i++ {
		f.poll()
		f.clock.Advance(time.Minute)
	}

	if f.tracker.usedSeconds != 30*60 {
		t.Fatalf("setup: usedSeconds = %d, want 1800", f.tracker.usedSeconds)
	}

	// Jump past midnight. Remaining was 120+10-30 = 100, capped to 60.
	f.clock.CurrentTime = wednesday.AddDate(0, 0, 1).Add(-11*time.Hour - 29*time.Minute)
	f.lister.setRunning(false)
	f.poll()

	if f.tracker.usedSeconds != 0 {
		t.Errorf("usedSeconds = %d, want 0 after rollover", f.tracker.usedSeconds)
	}
	if f.tracker.bonus != 60 {
		t.Errorf("bonus = %d, want 60 (remaining capped)", f.tracker.bonus)
	}
	if record, _ := f.tracker.Snapshot(); len(record.Ranges) != 0 {
		t.Errorf("ranges must be cleared, got %d", len(record.Ranges))
	}
	if f.tracker.running {
		t.Error("running must be false after rollover")
	}

	if len(f.history.archived) != 1 {
		t.Fatalf("expected 1 archived day, got %d", len(f.history.archived))
	}
	archived := f.history.archived[0]
	if archived.Date != wednesday.Format(storage.DateFormat) {
		t.Errorf("archived date = %s, want %s", archived.Date, wednesday.Format(storage.DateFormat))
	}
	if archived.Bonus != 10 {
		t.Errorf("archived bonus = %d, want pre-reset 10", archived.Bonus)
	}
	if archived.UsedSeconds() != 30*60 {
		t.Errorf("archived seconds = %d, want 1800", archived.UsedSeconds())
	}
}

func TestDayRolloverIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{})
	f.poll()

	f.clock.CurrentTime = wednesday.AddDate(0, 0, 1)
	f.poll()
	bonusAfterFirst := f.tracker.bonus

	// Same day, same time: no second reset, no second archive.
	f.poll()

	if f.tracker.bonus != bonusAfterFirst {
		t.Errorf("bonus changed on repeated poll: %d -> %d", bonusAfterFirst, f.tracker.bonus)
	}
	if len(f.history.archived) != 1 {
		t.Errorf("expected 1 archive, got %d", len(f.history.archived))
	}
}

func TestRolloverUsesWeekendQuotaOfNewDay(t *testing.T) {
	// Friday 23:30 with everything unused; Saturday's quota applies to the
	// remaining computation at rollover.
	friday := time.Date(2024, time.March, 15, 23, 30, 0, 0, time.Local)
	f := newFixture(t, Config{WeekdayMinutes: 10, WeekendMinutes: 20}, storage.DayRecord{})
	f.clock.CurrentTime = friday
	f.tracker = New(f.tracker.cfg, f.lister, f.notifier, f.history, f.clock, storage.DayRecord{}, zerolog.Nop())
	f.poll()

	f.clock.CurrentTime = friday.Add(time.Hour) // Saturday 00:30
	f.poll()

	// remaining = min(weekend quota 20 + bonus 0 - used 0, cap 60) = 20
	if f.tracker.bonus != 20 {
		t.Errorf("bonus = %d, want 20", f.tracker.bonus)
	}
}

func TestArchiveFailureDoesNotAbortCycle(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{})
	f.history.err = errors.New("backend down")
	f.lister.setRunning(true)

	f.poll()
	f.clock.CurrentTime = wednesday.AddDate(0, 0, 1)
	f.poll()

	// The cycle carried on: rollover happened and the process was matched.
	if f.tracker.usedSeconds != 0 {
		t.Errorf("rollover did not happen, usedSeconds = %d", f.tracker.usedSeconds)
	}
	if !f.tracker.running {
		t.Error("matching should have continued after archive failure")
	}
}

func TestListerErrorAbortsCycleSafely(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{})
	f.lister.setRunning(true)
	f.poll()
	usedBefore := f.tracker.usedSeconds

	f.clock.Advance(time.Minute)
	f.lister.err = errors.New("permission denied")
	f.poll()

	if f.tracker.usedSeconds != usedBefore {
		t.Errorf("failed cycle must not mutate usage: %d -> %d", usedBefore, f.tracker.usedSeconds)
	}
}

func TestAdjustBonus(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{Bonus: 5})

	if got := f.tracker.AdjustBonus(10); got != 15 {
		t.Errorf("AdjustBonus(10) = %d, want 15", got)
	}
	if got := f.tracker.AdjustBonus(-20); got != -5 {
		t.Errorf("AdjustBonus(-20) = %d, want -5", got)
	}
}

func TestSetDebugEmitsDiagnosticsAtDefaultLevel(t *testing.T) {
	previous := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })

	var buf bytes.Buffer
	clock := &TestClock{CurrentTime: wednesday}
	lister := &fakeLister{}
	cfg := Config{
		ProcessName:    "game",
		Message:        "Stop",
		WeekdayMinutes: 120,
		WeekendMinutes: 180,
		Interval:       time.Minute,
	}
	trk := New(cfg, lister, &fakeNotifier{}, nil, clock, storage.DayRecord{}, zerolog.New(&buf))
	lister.setRunning(true)

	trk.Poll(context.Background())
	if buf.Len() != 0 {
		t.Fatalf("diagnostics emitted with debug off: %s", buf.String())
	}

	trk.SetDebug(true)
	clock.Advance(time.Minute)
	trk.Poll(context.Background())
	if !strings.Contains(buf.String(), "Still running") {
		t.Errorf("no diagnostics after SetDebug(true), log output: %q", buf.String())
	}

	trk.SetDebug(false)
	if got := zerolog.GlobalLevel(); got != zerolog.InfoLevel {
		t.Errorf("global level after disable = %s, want info", got)
	}
	buf.Reset()
	clock.Advance(time.Minute)
	trk.Poll(context.Background())
	if buf.Len() != 0 {
		t.Errorf("diagnostics emitted after SetDebug(false): %s", buf.String())
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t, Config{}, storage.DayRecord{Bonus: 5})
	f.lister.setRunning(true)

	for i := 0; i <= 10; i++ {
		f.poll()
		f.clock.Advance(time.Minute)
	}

	report := f.tracker.Report()
	if !strings.Contains(report, "Allowed:120 Bonus:5 Used:10 Remaining:115") {
		t.Errorf("report header wrong: %q", report)
	}
	if !strings.Contains(report, "12:00:00-12:10:00  10") {
		t.Errorf("report range line wrong: %q", report)
	}
}

func TestNewRecomputesUsedSecondsFromRanges(t *testing.T) {
	start := wednesday.Add(-2 * time.Hour)
	record := storage.DayRecord{
		Ranges: []storage.TimeRange{
			{StartTicks: start.UnixNano(), EndTicks: start.Add(15 * time.Minute).UnixNano()},
			{StartTicks: start.Add(time.Hour).UnixNano(), EndTicks: start.Add(time.Hour + 5*time.Minute).UnixNano()},
		},
		Bonus: 3,
	}

	f := newFixture(t, Config{}, record)

	if f.tracker.usedSeconds != 20*60 {
		t.Errorf("usedSeconds = %d, want 1200", f.tracker.usedSeconds)
	}
	if f.tracker.bonus != 3 {
		t.Errorf("bonus = %d, want 3", f.tracker.bonus)
	}
}
