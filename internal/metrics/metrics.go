package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Poll cycle metrics
	PollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmon_poll_cycles_total",
			Help: "Total number of poll cycles executed",
		},
	)

	PollErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmon_poll_errors_total",
			Help: "Total number of poll cycles that hit an error",
		},
	)

	ProcessRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "appmon_process_running",
			Help: "Whether the monitored process was detected at the last poll (0 or 1)",
		},
	)

	// Usage metrics
	UsedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "appmon_used_seconds",
			Help: "Accumulated active seconds for the current day",
		},
	)

	BonusMinutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "appmon_bonus_minutes",
			Help: "Bonus minutes currently in effect",
		},
	)

	OverQuotaPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmon_over_quota_polls_total",
			Help: "Total polls observed while over the daily quota",
		},
	)

	DayRolloversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmon_day_rollovers_total",
			Help: "Total day-boundary resets performed",
		},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appmon_notifications_total",
			Help: "Notification attempts by result",
		},
		[]string{"result"},
	)

	// History metrics
	DaysArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appmon_days_archived_total",
			Help: "Total finished days archived to the history store",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PollCyclesTotal,
		PollErrorsTotal,
		ProcessRunning,
		UsedSeconds,
		BonusMinutes,
		OverQuotaPollsTotal,
		DayRolloversTotal,
		NotificationsTotal,
		DaysArchivedTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
