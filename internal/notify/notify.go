// Package notify delivers warnings to the interactive user session. Delivery
// runs off the poll path with a single in-flight slot: while one send is in
// progress every other request is silently dropped.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/appmon/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// firstSession is the first candidate probed when the target session is
	// not yet known.
	firstSession = 1

	// lastSession bounds the probe loop; interactive sessions beyond it are
	// not considered.
	lastSession = 7
)

// Response is the user-visible outcome of a delivered message.
type Response int

const (
	// ResponseOK means the message was displayed and acknowledged.
	ResponseOK Response = iota

	// ResponseTimeout means the message was displayed but nobody reacted
	// before the per-attempt timeout.
	ResponseTimeout
)

// ErrNoSession is returned by a Messenger when the target session does not
// exist. It is the only error that advances the probe loop.
var ErrNoSession = errors.New("notify: session does not exist")

// Messenger attempts to display a message to one session.
type Messenger interface {
	Send(ctx context.Context, sessionID int, title, message string, timeout time.Duration) (Response, error)
}

// Dispatcher sends session-targeted messages with sticky session discovery.
type Dispatcher struct {
	messenger Messenger
	logger    zerolog.Logger

	mu        sync.Mutex
	sessionID int // <= 0 means undiscovered

	sending atomic.Bool
}

// NewDispatcher creates a dispatcher. sessionID <= 0 enables auto-discovery.
func NewDispatcher(messenger Messenger, sessionID int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		messenger: messenger,
		sessionID: sessionID,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// SessionID returns the current target session, or a non-positive value when
// it has not been discovered yet.
func (d *Dispatcher) SessionID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

func (d *Dispatcher) setSessionID(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = id
}

// CycleSession advances the target session through 1..7, wrapping around.
// Used by the operator when discovery latched onto the wrong session.
func (d *Dispatcher) CycleSession() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessionID < firstSession || d.sessionID >= lastSession {
		d.sessionID = firstSession
	} else {
		d.sessionID++
	}
	return d.sessionID
}

// Show delivers the message asynchronously. If a send is already in flight
// the request is dropped without queuing.
func (d *Dispatcher) Show(title, message string, timeout time.Duration) {
	if !d.sending.CompareAndSwap(false, true) {
		d.logger.Debug().Msg("Send already in flight, dropping notification")
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		return
	}

	go d.probe(title, message, timeout)
}

// probe walks candidate sessions until one accepts the message. Starting
// point is the known session if fixed, else session 1. While the target is
// undiscovered, a timeout response or a missing session advances to the next
// candidate; the first real success latches the session for all future sends.
// Any other failure, or any failure once the target is fixed, aborts.
func (d *Dispatcher) probe(title, message string, timeout time.Duration) {
	defer d.sending.Store(false)

	sessionID := firstSession
	if known := d.SessionID(); known > 0 {
		sessionID = known
	}

	for sessionID <= lastSession {
		resp, err := d.messenger.Send(context.Background(), sessionID, title, message, timeout)
		if err == nil {
			if resp == ResponseTimeout && d.SessionID() <= 0 {
				sessionID++
				continue
			}

			if d.SessionID() <= 0 {
				d.setSessionID(sessionID)
				d.logger.Info().Int("session", sessionID).Msg("Discovered interactive session")
			}

			metrics.NotificationsTotal.WithLabelValues("sent").Inc()
			return
		}

		d.logger.Error().Err(err).Int("session", sessionID).Msg("Send message failed")

		if d.SessionID() > 0 || !errors.Is(err, ErrNoSession) {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			return
		}

		sessionID++
	}

	metrics.NotificationsTotal.WithLabelValues("exhausted").Inc()
	d.logger.Warn().Msg("No session accepted the notification")
}
