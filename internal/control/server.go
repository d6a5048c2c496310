package control

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Engine is the subset of tracker operations the command channel drives.
type Engine interface {
	Report() string
	AdjustBonus(delta int) int
	SetDebug(enabled bool)
}

// SessionCycler advances the notification target session.
type SessionCycler interface {
	CycleSession() int
}

// EmailSender sends the optional email notification.
type EmailSender interface {
	Send() error
}

// Server accepts one command per connection: a decimal code on a single
// line, answered with a text reply, then the connection is closed.
type Server struct {
	engine  Engine
	cycler  SessionCycler
	mailer  EmailSender
	logger  zerolog.Logger
	path    string
	ln      net.Listener
	wg      sync.WaitGroup
	closing bool
	mu      sync.Mutex
}

func NewServer(path string, engine Engine, cycler SessionCycler, mailer EmailSender, logger zerolog.Logger) *Server {
	return &Server{
		engine: engine,
		cycler: cycler,
		mailer: mailer,
		logger: logger.With().Str("component", "control").Logger(),
		path:   path,
	}
}

// SetListener supplies a pre-bound listener, e.g. from systemd socket
// activation. Must be called before Start.
func (s *Server) SetListener(ln net.Listener) {
	s.ln = ln
}

// Start binds the unix socket (unless a listener was provided) and serves
// connections until Stop.
func (s *Server) Start() error {
	if s.ln == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
		// A previous unclean shutdown may have left the socket behind.
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", s.path)
		if err != nil {
			return fmt.Errorf("failed to listen on control socket: %w", err)
		}
		s.ln = ln
	}

	s.logger.Info().Str("path", s.path).Msg("Control server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.logger.Error().Err(err).Msg("Accept failed")
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		s.logger.Warn().Err(err).Msg("Failed to read command")
		return
	}

	code, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		s.logger.Warn().Str("input", strings.TrimSpace(line)).Msg("Command is not a number")
		fmt.Fprintln(conn, "error: command must be a decimal code")
		return
	}

	fmt.Fprint(conn, s.Execute(code))
}

// Execute decodes and runs one command code, returning the reply text.
func (s *Server) Execute(code int) string {
	cmd, err := Decode(code)
	if err != nil {
		s.logger.Warn().Int("code", code).Msg("Unrecognized command code")
		return fmt.Sprintf("error: %v\n", err)
	}

	s.logger.Info().Int("code", code).Msg("Command received")

	switch cmd.Op {
	case OpHelp:
		return HelpText()
	case OpQueryTime:
		return s.engine.Report()
	case OpAddTime:
		return fmt.Sprintf("bonus: %d\n", s.engine.AdjustBonus(cmd.Minutes))
	case OpRemoveTime:
		return fmt.Sprintf("bonus: %d\n", s.engine.AdjustBonus(-cmd.Minutes))
	case OpEnableDebug:
		s.engine.SetDebug(true)
		return "debug: on\n"
	case OpDisableDebug:
		s.engine.SetDebug(false)
		return "debug: off\n"
	case OpChangeSession:
		return fmt.Sprintf("session: %d\n", s.cycler.CycleSession())
	case OpSendEmail:
		if err := s.mailer.Send(); err != nil {
			return fmt.Sprintf("error: %v\n", err)
		}
		return "email: sent\n"
	}

	return fmt.Sprintf("error: unrecognized command code %d\n", code)
}

// Send delivers one command code to a running daemon and returns its reply.
func Send(path string, code int, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return "", fmt.Errorf("failed to connect to control socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := fmt.Fprintf(conn, "%d\n", code); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String(), nil
}
