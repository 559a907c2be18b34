package config

import (
	"fmt"
	"time"
)

// Config represents the full foreman configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// ServerConfig configures the foreman HTTP server
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           *int     `mapstructure:"port"` // nil = default 8000, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json"` // JSON lines instead of the console encoder
}

// DispatchConfig holds the hot-updatable dispatch tunables. Every field can
// be changed at runtime through PATCH /api/config; running executors finish
// their current attempt on the old snapshot and pick up the new values on
// the next attempt.
type DispatchConfig struct {
	// Timeout management
	TaskTimeout  int `mapstructure:"task_timeout" json:"task_timeout"`   // per-attempt execution timeout, seconds
	QueueTimeout int `mapstructure:"queue_timeout" json:"queue_timeout"` // max time a job may wait queued, seconds

	// Queue management
	MaxQueueSize   int  `mapstructure:"max_queue_size" json:"max_queue_size"`
	EnablePriority bool `mapstructure:"enable_priority" json:"enable_priority"`

	// Retry strategy
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	RetryDelay int `mapstructure:"retry_delay" json:"retry_delay"` // seconds between attempts

	// Worker management
	HealthCheckInterval int `mapstructure:"health_check_interval" json:"health_check_interval"` // seconds
	InstanceTimeout     int `mapstructure:"instance_timeout" json:"instance_timeout"`           // health probe timeout, seconds
}

// Server port constants
const (
	DefaultServerPort = 8000
	DefaultServerHost = "0.0.0.0"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// TaskTimeoutDuration returns the per-attempt execution timeout.
func (d DispatchConfig) TaskTimeoutDuration() time.Duration {
	return time.Duration(d.TaskTimeout) * time.Second
}

// QueueTimeoutDuration returns how long a job may sit queued before it is
// swept out as timed out.
func (d DispatchConfig) QueueTimeoutDuration() time.Duration {
	return time.Duration(d.QueueTimeout) * time.Second
}

// RetryDelayDuration returns the pause between attempts of the same job.
func (d DispatchConfig) RetryDelayDuration() time.Duration {
	return time.Duration(d.RetryDelay) * time.Second
}

// HealthCheckIntervalDuration returns the pause between worker health sweeps.
func (d DispatchConfig) HealthCheckIntervalDuration() time.Duration {
	return time.Duration(d.HealthCheckInterval) * time.Second
}

// InstanceTimeoutDuration returns the per-probe HTTP timeout.
func (d DispatchConfig) InstanceTimeoutDuration() time.Duration {
	return time.Duration(d.InstanceTimeout) * time.Second
}

// GetHost returns the configured bind host
func (sc ServerConfig) GetHost() string {
	if sc.Host == "" {
		return DefaultServerHost
	}
	return sc.Host
}

// GetPort returns the configured server port
func (sc ServerConfig) GetPort() int {
	if sc.Port == nil || *sc.Port == 0 {
		return DefaultServerPort
	}
	return *sc.Port
}

// GetAllowedOrigins returns the allowed CORS and WebSocket origins
func (sc ServerConfig) GetAllowedOrigins() []string {
	if len(sc.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return sc.AllowedOrigins
}

// GetServerHost returns the configured bind host
func (c *Config) GetServerHost() string {
	return c.Server.GetHost()
}

// GetServerPort returns the configured server port
func (c *Config) GetServerPort() int {
	return c.Server.GetPort()
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "foreman.db" // Fallback default
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	return c.Server.GetAllowedOrigins()
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: %s:%d, Dispatch: {MaxQueueSize: %d, TaskTimeout: %ds}}",
		c.GetDatabasePath(), c.GetServerHost(), c.GetServerPort(), c.Dispatch.MaxQueueSize, c.Dispatch.TaskTimeout)
}
