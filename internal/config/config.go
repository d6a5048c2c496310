package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Monitor Monitor `mapstructure:"monitor"`
	Quota   Quota   `mapstructure:"quota"`
	Notify  Notify  `mapstructure:"notify"`
	Storage Storage `mapstructure:"storage"`
	Control Control `mapstructure:"control"`
	Metrics Metrics `mapstructure:"metrics"`
	Logging Logging `mapstructure:"logging"`
}

// Monitor defines which process is watched and how often
type Monitor struct {
	ProcessName     string `mapstructure:"process_name"`
	Keyword         string `mapstructure:"keyword"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Debug           bool   `mapstructure:"debug"`
}

// Quota defines the daily allowance in minutes
type Quota struct {
	WeekdayMinutes int `mapstructure:"weekday_minutes"`
	WeekendMinutes int `mapstructure:"weekend_minutes"`
}

// Notify defines how the interactive user is warned
type Notify struct {
	Message        string `mapstructure:"message"`
	Email          string `mapstructure:"email"`
	SessionID      int    `mapstructure:"session_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Storage defines where usage state and history live
type Storage struct {
	DataDir       string      `mapstructure:"data_dir"`
	Type          string      `mapstructure:"type"`
	Path          string      `mapstructure:"path"`
	RetentionDays int         `mapstructure:"retention_days"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the redis history backend connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// Control defines the local command socket
type Control struct {
	SocketPath string `mapstructure:"socket_path"`
}

// Metrics defines the metrics endpoint
type Metrics struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Logging defines logging behavior
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("APPMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.interval_seconds", 60)
	v.SetDefault("monitor.debug", false)

	v.SetDefault("quota.weekday_minutes", 120)
	v.SetDefault("quota.weekend_minutes", 180)

	v.SetDefault("notify.message", "Stop")
	v.SetDefault("notify.session_id", -1)
	v.SetDefault("notify.timeout_seconds", 10)

	v.SetDefault("storage.data_dir", "/var/lib/appmon")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/appmon/history.db")
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	v.SetDefault("control.socket_path", "/run/appmon/control.sock")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9318)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate checks configuration consistency
func validate(config *Config) error {
	if config.Monitor.ProcessName == "" {
		return fmt.Errorf("monitor.process_name is required")
	}

	if config.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be positive, got %d", config.Monitor.IntervalSeconds)
	}

	if config.Quota.WeekdayMinutes < 0 || config.Quota.WeekendMinutes < 0 {
		return fmt.Errorf("quota minutes must not be negative")
	}

	switch config.Storage.Type {
	case "bolt", "redis":
	default:
		return fmt.Errorf("storage.type must be \"bolt\" or \"redis\", got %q", config.Storage.Type)
	}

	// Zero and negative both mean auto-discover.
	if config.Notify.SessionID > 7 {
		return fmt.Errorf("notify.session_id must be 0 or less (auto-discover) or between 1 and 7, got %d", config.Notify.SessionID)
	}

	return nil
}
