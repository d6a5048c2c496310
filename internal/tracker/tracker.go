// Package tracker implements the poll-driven usage engine: it decides per
// cycle whether the monitored application is running, accumulates its active
// time against the daily allowance, and warns the interactive session when
// the allowance is exceeded.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/appmon/internal/metrics"
	"github.com/goodtune/appmon/internal/procwatch"
	"github.com/goodtune/appmon/internal/quota"
	"github.com/goodtune/appmon/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// startDelay is how long after startup the first poll runs.
	startDelay = 5 * time.Second

	// staleGrace is how far past the expected poll time a cycle may arrive
	// before the gap is treated as a suspend/sleep and the running state is
	// discarded.
	staleGrace = 30 * time.Second
)

// Notifier delivers a user-facing warning. Implementations must not block.
type Notifier interface {
	Show(title, message string, timeout time.Duration)
}

// Config holds the engine's fixed parameters.
type Config struct {
	ProcessName    string
	Keyword        string
	Message        string
	WeekdayMinutes int
	WeekendMinutes int
	Interval       time.Duration
	NotifyTimeout  time.Duration
}

// Tracker owns the daily usage state. All mutating entry points serialize on
// one mutex; the poll cycle, the command handlers, and the stop hook may run
// concurrently.
type Tracker struct {
	cfg      Config
	lister   procwatch.Lister
	notifier Notifier
	history  storage.HistoryStore // optional; nil disables archiving
	clock    Clock
	logger   zerolog.Logger

	mu           sync.Mutex
	ranges       []TimeRange
	usedSeconds  int
	bonus        int
	running      bool
	lastPoll     time.Time
	debug        bool
	restoreLevel zerolog.Level
}

// New creates a tracker seeded from a loaded day record. usedSeconds is
// recomputed from the record's ranges, never trusted from storage.
func New(cfg Config, lister procwatch.Lister, notifier Notifier, history storage.HistoryStore, clock Clock, record storage.DayRecord, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		cfg:      cfg,
		lister:   lister,
		notifier: notifier,
		history:  history,
		clock:    clock,
		logger:   logger.With().Str("component", "tracker").Logger(),
		ranges:   rangesFromStorage(record.Ranges),
		bonus:    record.Bonus,
		lastPoll: clock.Now(),
	}

	for _, r := range t.ranges {
		t.usedSeconds += r.Seconds()
	}

	metrics.UsedSeconds.Set(float64(t.usedSeconds))
	metrics.BonusMinutes.Set(float64(t.bonus))

	return t
}

// Run polls until the context is canceled. A single-shot timer is re-armed
// after each cycle completes, so cycles never overlap and a long cycle
// simply delays the next one.
func (t *Tracker) Run(ctx context.Context) {
	timer := time.NewTimer(startDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		t.Poll(ctx)
		timer.Reset(t.cfg.Interval)
	}
}

// Poll executes one cycle: day-boundary and staleness handling, process
// match, state transition, warning check. Errors are logged and end the
// cycle early; they never propagate to the scheduler.
func (t *Tracker) Poll(ctx context.Context) {
	now := t.clock.Now()
	metrics.PollCyclesTotal.Inc()

	if finished := t.maybeReset(now); finished != nil {
		t.archive(ctx, *finished)
	}

	records, err := t.lister.List(ctx, t.cfg.ProcessName)
	if err != nil {
		metrics.PollErrorsTotal.Inc()
		t.logger.Error().Err(err).Msg("Process query failed")
		return
	}

	match := procwatch.Match(records, t.cfg.Keyword)
	if warn := t.apply(now, match, len(records)); warn != nil {
		t.notifier.Show("Warning", *warn, t.cfg.NotifyTimeout)
	}
}

// maybeReset performs the day-boundary rollover or the stale-poll reset.
// On rollover it returns the finished day's record, built from the pre-reset
// state, for archiving outside the lock.
func (t *Tracker) maybeReset(now time.Time) *storage.DayRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dateAfter(now, t.lastPoll) {
		q := quota.For(now, t.cfg.WeekdayMinutes, t.cfg.WeekendMinutes)
		remaining := quota.Remaining(q, t.bonus, t.usedSeconds/60)

		finished := &storage.DayRecord{
			Date:   t.lastPoll.Format(storage.DateFormat),
			Ranges: rangesToStorage(t.ranges),
			Bonus:  t.bonus,
		}

		t.bonus = quota.RolloverBonus(remaining)
		t.ranges = nil
		t.running = false
		t.usedSeconds = 0
		t.lastPoll = now

		metrics.DayRolloversTotal.Inc()
		metrics.UsedSeconds.Set(0)
		metrics.BonusMinutes.Set(float64(t.bonus))
		metrics.ProcessRunning.Set(0)

		if t.debug {
			t.logger.Debug().Int("rollover_bonus", t.bonus).Msg("Data reset on a new day")
		}
		return finished
	}

	if now.Sub(t.lastPoll.Add(t.cfg.Interval)) > staleGrace {
		t.lastPoll = now
		t.running = false
		metrics.ProcessRunning.Set(0)
		if t.debug {
			t.logger.Debug().Msg("Reset due to missed polls")
		}
	}

	return nil
}

// apply performs the state transition for one observation and returns the
// warning message to dispatch, if any.
func (t *Tracker) apply(now time.Time, match bool, recordCount int) *string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var warn *string

	switch {
	case match && t.running:
		last := len(t.ranges) - 1
		t.ranges[last].End = now
		t.usedSeconds += int(now.Sub(t.lastPoll) / time.Second)

		q := quota.For(now, t.cfg.WeekdayMinutes, t.cfg.WeekendMinutes)
		minutes := t.usedSeconds / 60

		metrics.UsedSeconds.Set(float64(t.usedSeconds))
		if t.debug {
			t.logger.Debug().Int("used", minutes).Int("quota", q).Int("bonus", t.bonus).Msg("Still running")
		}

		if minutes > q+t.bonus {
			metrics.OverQuotaPollsTotal.Inc()
			msg := fmt.Sprintf("%s.\n%d minutes allowed. %d minutes used.", t.cfg.Message, q+t.bonus, minutes)
			warn = &msg
		}

	case match && !t.running:
		t.ranges = append(t.ranges, TimeRange{Start: now, End: now})
		t.running = true
		metrics.ProcessRunning.Set(1)
		if t.debug {
			t.logger.Debug().Int("candidates", recordCount).Msg("Found process, start counting")
		}

	case !match && t.running:
		t.running = false
		metrics.ProcessRunning.Set(0)
		if t.debug {
			t.logger.Debug().Msg("Process stopped, stop counting")
		}

	default:
		if t.debug {
			t.logger.Debug().Msg("No process found")
		}
	}

	t.lastPoll = now
	return warn
}

// archive stores a finished day in the history backend. Best-effort: a
// failure is logged and the poll cycle continues.
func (t *Tracker) archive(ctx context.Context, finished storage.DayRecord) {
	if t.history == nil {
		return
	}
	if err := t.history.ArchiveDay(ctx, finished); err != nil {
		t.logger.Error().Err(err).Str("date", finished.Date).Msg("Failed to archive finished day")
		return
	}
	metrics.DaysArchivedTotal.Inc()
}

// Snapshot returns the current day's state and the last poll time, for the
// stop-hook save.
func (t *Tracker) Snapshot() (storage.DayRecord, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return storage.DayRecord{
		Date:   t.lastPoll.Format(storage.DateFormat),
		Ranges: rangesToStorage(t.ranges),
		Bonus:  t.bonus,
	}, t.lastPoll
}

// AdjustBonus adds delta minutes to the bonus and returns the new value.
// Negative deltas are allowed and may drive the bonus below zero.
func (t *Tracker) AdjustBonus(delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bonus += delta
	metrics.BonusMinutes.Set(float64(t.bonus))
	t.logger.Info().Int("delta", delta).Int("bonus", t.bonus).Msg("Bonus adjusted")
	return t.bonus
}

// SetDebug toggles per-cycle diagnostic logging. The global log level is
// raised to debug while enabled, so the diagnostics are visible regardless
// of the configured level, and restored on disable.
func (t *Tracker) SetDebug(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enabled == t.debug {
		return
	}
	t.debug = enabled

	if enabled {
		t.restoreLevel = zerolog.GlobalLevel()
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(t.restoreLevel)
	}
}

// Report renders today's usage: the quota line followed by one line per
// active interval with its length in minutes.
func (t *Tracker) Report() string {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	q := quota.For(now, t.cfg.WeekdayMinutes, t.cfg.WeekendMinutes)
	used := t.usedSeconds / 60
	remaining := quota.Remaining(q, t.bonus, used)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: Allowed:%d Bonus:%d Used:%d Remaining:%d\n",
		now.Format(storage.DateFormat), q, t.bonus, used, remaining)
	for _, r := range t.ranges {
		fmt.Fprintf(&sb, "%s-%s  %d\n",
			r.Start.Format("15:04:05"), r.End.Format("15:04:05"), r.Seconds()/60)
	}
	return sb.String()
}

// dateAfter reports whether a's calendar date is strictly later than b's.
func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
