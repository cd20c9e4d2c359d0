package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Download     DownloadConfig     `mapstructure:"download"`
	Daemon       DaemonConfig       `mapstructure:"daemon"`
	Resolver     ResolverConfig     `mapstructure:"resolver"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	MoviesDir         string `mapstructure:"movies_dir"`
	IncompleteDirName string `mapstructure:"incomplete_dir_name"`
	LogsDirName       string `mapstructure:"logs_dir_name"`
	MaxFilenameLength int    `mapstructure:"max_filename_length"`
	LoopBuffer        int    `mapstructure:"loop_buffer"`
}

// IncompleteDir is where the daemon keeps partial downloads
func (c DownloadConfig) IncompleteDir() string {
	return filepath.Join(c.MoviesDir, c.IncompleteDirName)
}

// LogsDir is where categorised log files are written
func (c DownloadConfig) LogsDir() string {
	return filepath.Join(c.MoviesDir, c.LogsDirName)
}

// Daemon transports
const (
	TransportProcess   = "process"
	TransportWebSocket = "websocket"
)

// DaemonConfig contains configuration for the download daemon channel
type DaemonConfig struct {
	Transport       string        `mapstructure:"transport"` // process or websocket
	Binary          string        `mapstructure:"binary"`
	Args            []string      `mapstructure:"args"`
	URL             string        `mapstructure:"url"`
	CommandBuffer   int           `mapstructure:"command_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ResolverConfig contains configuration for content-type and source resolution
type ResolverConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxPageBytes int64         `mapstructure:"max_page_bytes"`
}

// DatabaseConfig contains persistence configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8090,
			ShutdownTimeout: 30 * time.Second,
		},
		Download: DownloadConfig{
			MoviesDir:         "$HOME/Movies/remotedl",
			IncompleteDirName: "Incomplete Downloads",
			LogsDirName:       "logs",
			MaxFilenameLength: 100,
			LoopBuffer:        256,
		},
		Daemon: DaemonConfig{
			Transport:       TransportProcess,
			Binary:          "remotedl-daemon",
			URL:             "ws://127.0.0.1:8091/control",
			CommandBuffer:   128,
			ShutdownTimeout: 5 * time.Second,
		},
		Resolver: ResolverConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "remotedl/1.0",
			MaxPageBytes: 2 << 20,
		},
		Database: DatabaseConfig{
			Path: "$HOME/Movies/remotedl/downloads.db",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
