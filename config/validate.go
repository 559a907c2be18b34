package config

import "github.com/teranos/foreman/errors"

// Dispatch tunable floors. Values below these reject the whole update.
const (
	MinTaskTimeout         = 10 // seconds
	MinQueueTimeout        = 60 // seconds
	MinMaxQueueSize        = 1
	MinMaxRetries          = 0
	MinRetryDelay          = 1 // seconds
	MinHealthCheckInterval = 5 // seconds
	MinInstanceTimeout     = 1 // seconds
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "foreman.db" per defaults.go
	// No validation needed here

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	return c.Dispatch.Validate()
}

// Validate enforces the dispatch tunable floors. The offending field is
// named in the error so the API can surface it directly.
func (d DispatchConfig) Validate() error {
	if d.TaskTimeout < MinTaskTimeout {
		return errors.NewInvalidConfigError("task_timeout must be >= %d, got %d", MinTaskTimeout, d.TaskTimeout)
	}
	if d.QueueTimeout < MinQueueTimeout {
		return errors.NewInvalidConfigError("queue_timeout must be >= %d, got %d", MinQueueTimeout, d.QueueTimeout)
	}
	if d.MaxQueueSize < MinMaxQueueSize {
		return errors.NewInvalidConfigError("max_queue_size must be >= %d, got %d", MinMaxQueueSize, d.MaxQueueSize)
	}
	if d.MaxRetries < MinMaxRetries {
		return errors.NewInvalidConfigError("max_retries must be >= %d, got %d", MinMaxRetries, d.MaxRetries)
	}
	if d.RetryDelay < MinRetryDelay {
		return errors.NewInvalidConfigError("retry_delay must be >= %d, got %d", MinRetryDelay, d.RetryDelay)
	}
	if d.HealthCheckInterval < MinHealthCheckInterval {
		return errors.NewInvalidConfigError("health_check_interval must be >= %d, got %d", MinHealthCheckInterval, d.HealthCheckInterval)
	}
	if d.InstanceTimeout < MinInstanceTimeout {
		return errors.NewInvalidConfigError("instance_timeout must be >= %d, got %d", MinInstanceTimeout, d.InstanceTimeout)
	}
	return nil
}
