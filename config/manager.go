package config

import (
	"sync"

	"go.uber.org/zap"
)

// Manager owns the live dispatch tunables. The dispatcher and executors
// read a snapshot on each access, so a mutation here is picked up on their
// next loop iteration or attempt; work already in flight finishes on the
// values it started with.
type Manager struct {
	mu       sync.RWMutex
	cfg      DispatchConfig
	store    *Store // optional persistence, nil in tests
	logger   *zap.SugaredLogger
	onChange []func(DispatchConfig)
}

// Patch is a partial dispatch config update. Nil fields are left unchanged,
// mirroring PATCH /api/config semantics.
type Patch struct {
	TaskTimeout         *int  `json:"task_timeout"`
	QueueTimeout        *int  `json:"queue_timeout"`
	MaxQueueSize        *int  `json:"max_queue_size"`
	EnablePriority      *bool `json:"enable_priority"`
	MaxRetries          *int  `json:"max_retries"`
	RetryDelay          *int  `json:"retry_delay"`
	HealthCheckInterval *int  `json:"health_check_interval"`
	InstanceTimeout     *int  `json:"instance_timeout"`
}

// NewManager creates a config manager seeded with the given tunables.
// The initial values must already satisfy the floors.
func NewManager(initial DispatchConfig, store *Store, logger *zap.SugaredLogger) (*Manager, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:    initial,
		store:  store,
		logger: logger,
	}, nil
}

// Snapshot returns a copy of the current dispatch tunables.
func (m *Manager) Snapshot() DispatchConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers a callback invoked with the new snapshot after every
// successful update. Register during boot, before concurrent updates start.
func (m *Manager) OnChange(fn func(DispatchConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Apply merges a partial update into the current config. The merged result
// is validated as a whole; a single out-of-range field rejects the entire
// patch and the old values stay live.
func (m *Manager) Apply(p Patch) (DispatchConfig, error) {
	m.mu.Lock()

	merged := m.cfg
	if p.TaskTimeout != nil {
		merged.TaskTimeout = *p.TaskTimeout
	}
	if p.QueueTimeout != nil {
		merged.QueueTimeout = *p.QueueTimeout
	}
	if p.MaxQueueSize != nil {
		merged.MaxQueueSize = *p.MaxQueueSize
	}
	if p.EnablePriority != nil {
		merged.EnablePriority = *p.EnablePriority
	}
	if p.MaxRetries != nil {
		merged.MaxRetries = *p.MaxRetries
	}
	if p.RetryDelay != nil {
		merged.RetryDelay = *p.RetryDelay
	}
	if p.HealthCheckInterval != nil {
		merged.HealthCheckInterval = *p.HealthCheckInterval
	}
	if p.InstanceTimeout != nil {
		merged.InstanceTimeout = *p.InstanceTimeout
	}

	if err := merged.Validate(); err != nil {
		m.mu.Unlock()
		return m.Snapshot(), err
	}

	if m.store != nil {
		if err := m.store.SaveDispatch(merged); err != nil {
			m.mu.Unlock()
			return m.Snapshot(), err
		}
	}

	m.cfg = merged
	callbacks := make([]func(DispatchConfig), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Infow("Dispatch config updated",
			"task_timeout", merged.TaskTimeout,
			"queue_timeout", merged.QueueTimeout,
			"max_queue_size", merged.MaxQueueSize,
			"enable_priority", merged.EnablePriority,
			"max_retries", merged.MaxRetries,
			"retry_delay", merged.RetryDelay,
			"health_check_interval", merged.HealthCheckInterval,
			"instance_timeout", merged.InstanceTimeout,
		)
	}

	for _, fn := range callbacks {
		fn(merged)
	}

	return merged, nil
}

// Replace swaps in a complete new config, used by the file watcher reload
// path. Validation and persistence follow the same rules as Apply.
func (m *Manager) Replace(cfg DispatchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.store != nil {
		if err := m.store.SaveDispatch(cfg); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.cfg = cfg
	callbacks := make([]func(DispatchConfig), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}

	return nil
}
