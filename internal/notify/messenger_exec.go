package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/login1"
	"github.com/rs/zerolog"
)

// LogindMessenger displays desktop notifications inside a numbered logind
// session. The session number is resolved to its owning user via the logind
// D-Bus API, then notify-send is executed on that user's session bus.
type LogindMessenger struct {
	conn   *login1.Conn
	logger zerolog.Logger
}

// NewLogindMessenger connects to systemd-logind.
func NewLogindMessenger(logger zerolog.Logger) (*LogindMessenger, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, fmt.Errorf("connect to logind: %w", err)
	}
	return &LogindMessenger{
		conn:   conn,
		logger: logger.With().Str("component", "messenger").Logger(),
	}, nil
}

// Close releases the logind connection.
func (m *LogindMessenger) Close() {
	m.conn.Close()
}

// Send displays the message in the given session. A session number with no
// matching logind session yields ErrNoSession; a display attempt that runs
// past the timeout reports ResponseTimeout.
func (m *LogindMessenger) Send(ctx context.Context, sessionID int, title, message string, timeout time.Duration) (Response, error) {
	uid, err := m.resolveSession(sessionID)
	if err != nil {
		return 0, err
	}

	// Leave headroom past the display timeout for process startup.
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	expireMS := strconv.FormatInt(timeout.Milliseconds(), 10)
	busAddr := fmt.Sprintf("unix:path=/run/user/%d/bus", uid)

	cmd := exec.CommandContext(ctx, "systemd-run",
		"--quiet", "--wait", "--collect",
		"--uid="+strconv.FormatUint(uint64(uid), 10),
		"--setenv=DBUS_SESSION_BUS_ADDRESS="+busAddr,
		"notify-send", "--urgency=critical", "--expire-time="+expireMS, title, message)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ResponseTimeout, nil
		}
		return 0, fmt.Errorf("notify session %d: %s: %w", sessionID, string(output), err)
	}

	return ResponseOK, nil
}

// resolveSession maps a numbered session to the UID owning it.
func (m *LogindMessenger) resolveSession(sessionID int) (uint32, error) {
	sessions, err := m.conn.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	want := strconv.Itoa(sessionID)
	for _, s := range sessions {
		if s.ID == want {
			return s.UID, nil
		}
	}

	return 0, fmt.Errorf("session %d: %w", sessionID, ErrNoSession)
}
