// Package config loads gateway settings from an optional .env file, the
// environment and command-line flags using Viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds gateway configuration
type Config struct {
	// Host and Port are the listen address of the gateway
	Host string `mapstructure:"GATEWAY_HOST"`
	Port int    `mapstructure:"GATEWAY_PORT"`
	// Debug lowers the log level to DEBUG unless LOG_LEVEL is set
	Debug bool `mapstructure:"GATEWAY_DEBUG"`

	// DroneAPIURL is the base URL of the drone controller
	DroneAPIURL string `mapstructure:"DRONE_API_URL"`
	// BackendTimeout bounds JSON and GET calls to the controller
	BackendTimeout time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	// BackendUploadTimeout bounds mission file uploads
	BackendUploadTimeout time.Duration `mapstructure:"BACKEND_UPLOAD_TIMEOUT"`

	HistoryFile        string `mapstructure:"HISTORY_FILE"`
	ActionHistoryLimit int    `mapstructure:"ACTION_HISTORY_LIMIT"`
	GPSHistorySize     int    `mapstructure:"GPS_HISTORY_SIZE"`

	// ArchiveDB is the SQLite telemetry archive path; empty disables archiving
	ArchiveDB string `mapstructure:"ARCHIVE_DB"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`
}

var defaults = map[string]interface{}{
	"GATEWAY_HOST":           "0.0.0.0",
	"GATEWAY_PORT":           3003,
	"GATEWAY_DEBUG":          true,
	"DRONE_API_URL":          "http://localhost:5001",
	"BACKEND_TIMEOUT":        "10s",
	"BACKEND_UPLOAD_TIMEOUT": "30s",
	"HISTORY_FILE":           "action_history.txt",
	"ACTION_HISTORY_LIMIT":   50,
	"GPS_HISTORY_SIZE":       100,
	"ARCHIVE_DB":             "",
	"LOG_LEVEL":              "",
	"LOG_FILE":               "",
	"LOG_MAX_AGE_DAYS":       30,
}

// Load reads envFile (if present), then the environment, then any flags
// registered in bindings (config key -> flag). Missing env files are ignored.
func Load(envFile string, flags *pflag.FlagSet, bindings map[string]string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			log.WithField("file", envFile).Debug("No env file loaded")
		}
	}

	v.AutomaticEnv()

	if flags != nil {
		for key, name := range bindings {
			f := flags.Lookup(name)
			if f == nil {
				return nil, fmt.Errorf("config: unknown flag %q", name)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("config: bind %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DroneAPIURL == "" {
		return errors.New("config: DRONE_API_URL must be set")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: GATEWAY_PORT %d out of range", c.Port)
	}
	if c.HistoryFile == "" {
		return errors.New("config: HISTORY_FILE must be set")
	}
	if c.GPSHistorySize < 1 {
		log.Warnf("GPS_HISTORY_SIZE %d is not positive, using 100", c.GPSHistorySize)
		c.GPSHistorySize = 100
	}
	if c.ActionHistoryLimit < 1 {
		c.ActionHistoryLimit = 50
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = 10 * time.Second
	}
	if c.BackendUploadTimeout <= 0 {
		c.BackendUploadTimeout = 30 * time.Second
	}
	return nil
}

// ListenAddress returns host:port for the HTTP server
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GetLogLevel maps LOG_LEVEL onto a logrus level, falling back to
// DEBUG or INFO depending on GATEWAY_DEBUG.
func (c *Config) GetLogLevel() log.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	}
	if c.Debug {
		return log.DebugLevel
	}
	return log.InfoLevel
}
