// Package config provides configuration management for Agor.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the Agor daemon.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worktree  WorktreeConfig  `mapstructure:"worktree"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Dialect is "sqlite" or "postgresql"; for postgresql, URL is the connection
// string (also read from DATABASE_URL). For sqlite, Path is the database file.
type DatabaseConfig struct {
	Dialect  string `mapstructure:"dialect"`
	URL      string `mapstructure:"url"`
	Path     string `mapstructure:"path"`
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL                string `mapstructure:"url"`
	ClientID           string `mapstructure:"clientId"`
	MaxReconnects      int    `mapstructure:"maxReconnects"`
	ReconnectWaitSecs  int    `mapstructure:"reconnectWaitSecs"`
	ConnectTimeoutSecs int    `mapstructure:"connectTimeoutSecs"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Secret               string `mapstructure:"secret"`
	TokenDuration        int    `mapstructure:"tokenDuration"`        // in seconds, client tokens
	SessionTokenDuration int    `mapstructure:"sessionTokenDuration"` // in seconds, executor tokens
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SchedulerConfig holds task scheduler configuration.
type SchedulerConfig struct {
	MaxConcurrent     int    `mapstructure:"maxConcurrent"`     // max parallel executor subprocesses
	CancelGraceSecs   int    `mapstructure:"cancelGraceSecs"`   // grace window before SIGKILL
	PermissionTimeout int    `mapstructure:"permissionTimeout"` // permission prompt timeout, seconds
	ExecutorPath      string `mapstructure:"executorPath"`      // path to the agor-executor binary
}

// WorktreeConfig holds git worktree configuration.
type WorktreeConfig struct {
	BasePath        string `mapstructure:"basePath"`
	DefaultBranch   string `mapstructure:"defaultBranch"`
	CleanupOnRemove bool   `mapstructure:"cleanupOnRemove"`
}

// MCPConfig holds Model-Context-Protocol configuration.
type MCPConfig struct {
	// UserEnvKeys is the comma-separated allow-list of env var names
	// exposable to MCP server templates ({{ user.env.X }}).
	UserEnvKeys string `mapstructure:"userEnvKeys"`
	// ServerEnabled enables the embedded MCP server.
	ServerEnabled bool `mapstructure:"serverEnabled"`
	// ServerPort is the port for the embedded MCP server.
	ServerPort int `mapstructure:"serverPort"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the client token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// SessionTokenDurationTime returns the executor token duration as a time.Duration.
func (a *AuthConfig) SessionTokenDurationTime() time.Duration {
	return time.Duration(a.SessionTokenDuration) * time.Second
}

// CancelGrace returns the cancellation grace window as a time.Duration.
func (s *SchedulerConfig) CancelGrace() time.Duration {
	return time.Duration(s.CancelGraceSecs) * time.Second
}

// PermissionTimeoutDuration returns the permission prompt timeout.
func (s *SchedulerConfig) PermissionTimeoutDuration() time.Duration {
	return time.Duration(s.PermissionTimeout) * time.Second
}

// UserEnvKeyList returns the parsed allow-list of exposable env var names.
func (m *MCPConfig) UserEnvKeyList() []string {
	if strings.TrimSpace(m.UserEnvKeys) == "" {
		return nil
	}
	parts := strings.Split(m.UserEnvKeys, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// StateDir returns the user-scoped state directory (default ~/.agor).
func StateDir() string {
	if dir := os.Getenv("AGOR_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agor"
	}
	return filepath.Join(home, ".agor")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7365)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.dialect", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", filepath.Join(StateDir(), "agor.db"))
	v.SetDefault("database.maxConns", 25)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agor-daemon")
	v.SetDefault("nats.maxReconnects", 10)
	v.SetDefault("nats.reconnectWaitSecs", 2)
	v.SetDefault("nats.connectTimeoutSecs", 5)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.tokenDuration", 7*24*3600) // 7 days
	v.SetDefault("auth.sessionTokenDuration", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("scheduler.maxConcurrent", 8)
	v.SetDefault("scheduler.cancelGraceSecs", 5)
	v.SetDefault("scheduler.permissionTimeout", 30)
	v.SetDefault("scheduler.executorPath", "agor-executor")

	v.SetDefault("worktree.basePath", filepath.Join(StateDir(), "worktrees"))
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.cleanupOnRemove", true)

	v.SetDefault("mcp.userEnvKeys", "")
	v.SetDefault("mcp.serverEnabled", false)
	v.SetDefault("mcp.serverPort", 7370)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGOR_ with snake_case naming.
// The config file is config.yaml in the current directory or in ~/.agor/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings where the env var name differs from the config key.
	_ = v.BindEnv("database.dialect", "AGOR_DB_DIALECT")
	_ = v.BindEnv("database.url", "DATABASE_URL", "AGOR_DATABASE_URL")
	_ = v.BindEnv("mcp.userEnvKeys", "AGOR_USER_ENV_KEYS")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(StateDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Dialect {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite dialect")
		}
	case "postgresql":
		if cfg.Database.URL == "" {
			errs = append(errs, "database.url (or DATABASE_URL) is required for the postgresql dialect")
		}
	default:
		errs = append(errs, "database.dialect must be one of: sqlite, postgresql")
	}

	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}
	if cfg.Scheduler.MaxConcurrent <= 0 {
		errs = append(errs, "scheduler.maxConcurrent must be positive")
	}
	if cfg.Scheduler.PermissionTimeout < 30 {
		errs = append(errs, "scheduler.permissionTimeout must be at least 30 seconds")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret generates a throwaway signing secret for development mode.
// In production, users should set AGOR_AUTH_SECRET.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
