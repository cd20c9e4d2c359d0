package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/remotedl-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.remotedl")
		v.AddConfigPath("/etc/remotedl")
	}

	// Environment variables only override keys viper knows about, so every
	// default is registered first.
	for key, value := range configValues(config) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("REMOTEDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// configValues flattens config into viper keys
func configValues(config *domain.Config) map[string]interface{} {
	return map[string]interface{}{
		"server.host":                  config.Server.Host,
		"server.port":                  config.Server.Port,
		"server.shutdown_timeout":      config.Server.ShutdownTimeout.String(),
		"download.movies_dir":          config.Download.MoviesDir,
		"download.incomplete_dir_name": config.Download.IncompleteDirName,
		"download.logs_dir_name":       config.Download.LogsDirName,
		"download.max_filename_length": config.Download.MaxFilenameLength,
		"download.loop_buffer":         config.Download.LoopBuffer,
		"daemon.transport":             config.Daemon.Transport,
		"daemon.binary":                config.Daemon.Binary,
		"daemon.args":                  config.Daemon.Args,
		"daemon.url":                   config.Daemon.URL,
		"daemon.command_buffer":        config.Daemon.CommandBuffer,
		"daemon.shutdown_timeout":      config.Daemon.ShutdownTimeout.String(),
		"resolver.timeout":             config.Resolver.Timeout.String(),
		"resolver.user_agent":          config.Resolver.UserAgent,
		"resolver.max_page_bytes":      config.Resolver.MaxPageBytes,
		"database.path":                config.Database.Path,
		"notification.enabled":         config.Notification.Enabled,
		"notification.method":          config.Notification.Method,
		"logging.level":                config.Logging.Level,
		"logging.format":               config.Logging.Format,
		"logging.output_path":          config.Logging.OutputPath,
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.MoviesDir = expandPath(config.Download.MoviesDir)
	config.Database.Path = expandPath(config.Database.Path)
	config.Daemon.Binary = expandPath(config.Daemon.Binary)

	switch config.Logging.OutputPath {
	case "stdout", "stderr", "discard", "":
	default:
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}
	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Download.MoviesDir == "" {
		return fmt.Errorf("movies directory not configured")
	}

	if config.Download.IncompleteDirName == "" || strings.ContainsAny(config.Download.IncompleteDirName, `/\`) {
		return fmt.Errorf("incomplete directory name must be a single path element")
	}

	if config.Download.MaxFilenameLength < 0 {
		return fmt.Errorf("max filename length cannot be negative")
	}

	switch config.Daemon.Transport {
	case domain.TransportProcess:
		if config.Daemon.Binary == "" {
			return fmt.Errorf("daemon binary not configured")
		}
	case domain.TransportWebSocket:
		if config.Daemon.URL == "" {
			return fmt.Errorf("daemon url not configured")
		}
	default:
		return fmt.Errorf("unknown daemon transport: %s", config.Daemon.Transport)
	}

	if config.Daemon.CommandBuffer < 1 {
		return fmt.Errorf("daemon command buffer must be at least 1")
	}

	if config.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range configValues(config) {
		v.Set(key, value)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
