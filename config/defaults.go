package config

import "github.com/spf13/viper"

// Dispatch tunable defaults. These match the values seeded into the config
// table on first boot and returned by GET /api/config on a fresh install.
const (
	DefaultTaskTimeout         = 300 // seconds
	DefaultQueueTimeout        = 600 // seconds
	DefaultMaxQueueSize        = 100
	DefaultEnablePriority      = true
	DefaultMaxRetries          = 3
	DefaultRetryDelay          = 5  // seconds
	DefaultHealthCheckInterval = 30 // seconds
	DefaultInstanceTimeout     = 10 // seconds
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "foreman.db")

	// Server configuration defaults
	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Log defaults
	v.SetDefault("log.json", false)

	// Dispatch defaults
	v.SetDefault("dispatch.task_timeout", DefaultTaskTimeout)
	v.SetDefault("dispatch.queue_timeout", DefaultQueueTimeout)
	v.SetDefault("dispatch.max_queue_size", DefaultMaxQueueSize)
	v.SetDefault("dispatch.enable_priority", DefaultEnablePriority)
	v.SetDefault("dispatch.max_retries", DefaultMaxRetries)
	v.SetDefault("dispatch.retry_delay", DefaultRetryDelay)
	v.SetDefault("dispatch.health_check_interval", DefaultHealthCheckInterval)
	v.SetDefault("dispatch.instance_timeout", DefaultInstanceTimeout)
}

// DefaultDispatch returns the dispatch tunables as shipped.
func DefaultDispatch() DispatchConfig {
	return DispatchConfig{
		TaskTimeout:         DefaultTaskTimeout,
		QueueTimeout:        DefaultQueueTimeout,
		MaxQueueSize:        DefaultMaxQueueSize,
		EnablePriority:      DefaultEnablePriority,
		MaxRetries:          DefaultMaxRetries,
		RetryDelay:          DefaultRetryDelay,
		HealthCheckInterval: DefaultHealthCheckInterval,
		InstanceTimeout:     DefaultInstanceTimeout,
	}
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Database path
	v.BindEnv("database.path", "FOREMAN_DATABASE_PATH")
}
