package config

import (
	"database/sql"
	"encoding/json"

	"github.com/teranos/foreman/errors"
)

// Store persists dispatch tunables to the config table, one row per key
// with a JSON-encoded value. Values saved here survive restarts and win
// over file and environment values at boot, because they represent the
// operator's most recent runtime decision.
type Store struct {
	db *sql.DB
}

// NewStore creates a config store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveDispatch upserts every dispatch key in one transaction.
func (s *Store) SaveDispatch(cfg DispatchConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin config save")
	}

	for key, value := range dispatchValues(cfg) {
		encoded, err := json.Marshal(value)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "encode config %s", key)
		}
		_, err = tx.Exec(`
			INSERT INTO config (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			key, string(encoded))
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "save config %s", key)
		}
	}

	return errors.Wrap(tx.Commit(), "commit config save")
}

// LoadDispatch reads persisted dispatch values over the given base. Keys
// missing from the table keep their base value; unknown keys in the table
// are ignored.
func (s *Store) LoadDispatch(base DispatchConfig) (DispatchConfig, error) {
	rows, err := s.db.Query("SELECT key, value FROM config")
	if err != nil {
		return base, errors.Wrap(err, "load config")
	}
	defer rows.Close()

	cfg := base
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return base, errors.Wrap(err, "scan config row")
		}
		if err := applyDispatchValue(&cfg, key, json.RawMessage(value)); err != nil {
			return base, errors.Wrapf(err, "decode config %s", key)
		}
	}

	return cfg, errors.Wrap(rows.Err(), "iterate config rows")
}

// dispatchValues flattens the dispatch config into its table keys.
func dispatchValues(cfg DispatchConfig) map[string]interface{} {
	return map[string]interface{}{
		"task_timeout":          cfg.TaskTimeout,
		"queue_timeout":         cfg.QueueTimeout,
		"max_queue_size":        cfg.MaxQueueSize,
		"enable_priority":       cfg.EnablePriority,
		"max_retries":           cfg.MaxRetries,
		"retry_delay":           cfg.RetryDelay,
		"health_check_interval": cfg.HealthCheckInterval,
		"instance_timeout":      cfg.InstanceTimeout,
	}
}

// applyDispatchValue decodes a single table row into its config field.
func applyDispatchValue(cfg *DispatchConfig, key string, value json.RawMessage) error {
	switch key {
	case "task_timeout":
		return json.Unmarshal(value, &cfg.TaskTimeout)
	case "queue_timeout":
		return json.Unmarshal(value, &cfg.QueueTimeout)
	case "max_queue_size":
		return json.Unmarshal(value, &cfg.MaxQueueSize)
	case "enable_priority":
		return json.Unmarshal(value, &cfg.EnablePriority)
	case "max_retries":
		return json.Unmarshal(value, &cfg.MaxRetries)
	case "retry_delay":
		return json.Unmarshal(value, &cfg.RetryDelay)
	case "health_check_interval":
		return json.Unmarshal(value, &cfg.HealthCheckInterval)
	case "instance_timeout":
		return json.Unmarshal(value, &cfg.InstanceTimeout)
	default:
		// Unknown keys are tolerated for forward compatibility
		return nil
	}
}
