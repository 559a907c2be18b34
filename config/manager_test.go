package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/foreman/errors"
	foremantesting "github.com/teranos/foreman/internal/testing"
	"github.com/teranos/foreman/internal/util"
)

func TestManagerApply(t *testing.T) {
	mgr, err := NewManager(DefaultDispatch(), nil, nil)
	require.NoError(t, err)

	t.Run("merges partial updates", func(t *testing.T) {
		updated, err := mgr.Apply(Patch{
			TaskTimeout:  util.Ptr(120),
			MaxQueueSize: util.Ptr(10),
		})
		require.NoError(t, err)

		assert.Equal(t, 120, updated.TaskTimeout)
		assert.Equal(t, 10, updated.MaxQueueSize)
		// Untouched fields keep their values
		assert.Equal(t, DefaultQueueTimeout, updated.QueueTimeout)
		assert.Equal(t, DefaultEnablePriority, updated.EnablePriority)

		assert.Equal(t, updated, mgr.Snapshot())
	})

	t.Run("rejects out-of-range values and keeps old config", func(t *testing.T) {
		before := mgr.Snapshot()

		_, err := mgr.Apply(Patch{TaskTimeout: util.Ptr(5)})
		require.Error(t, err)
		assert.True(t, errors.IsInvalidConfig(err))

		assert.Equal(t, before, mgr.Snapshot(), "failed patch must not change live config")
	})

	t.Run("one bad field rejects the whole patch", func(t *testing.T) {
		before := mgr.Snapshot()

		_, err := mgr.Apply(Patch{
			QueueTimeout: util.Ptr(900), // valid
			RetryDelay:   util.Ptr(0),   // below floor
		})
		require.Error(t, err)

		assert.Equal(t, before, mgr.Snapshot(), "valid fields of a rejected patch must not apply")
	})

	t.Run("toggles priority scheduling", func(t *testing.T) {
		updated, err := mgr.Apply(Patch{EnablePriority: util.Ptr(false)})
		require.NoError(t, err)
		assert.False(t, updated.EnablePriority)
	})
}

func TestManagerOnChange(t *testing.T) {
	mgr, err := NewManager(DefaultDispatch(), nil, nil)
	require.NoError(t, err)

	var notified []DispatchConfig
	mgr.OnChange(func(cfg DispatchConfig) {
		notified = append(notified, cfg)
	})

	_, err = mgr.Apply(Patch{TaskTimeout: util.Ptr(60)})
	require.NoError(t, err)

	// Rejected patches do not notify
	_, err = mgr.Apply(Patch{TaskTimeout: util.Ptr(1)})
	require.Error(t, err)

	require.Len(t, notified, 1)
	assert.Equal(t, 60, notified[0].TaskTimeout)
}

func TestManagerRejectsInvalidSeed(t *testing.T) {
	bad := DefaultDispatch()
	bad.MaxQueueSize = 0

	_, err := NewManager(bad, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfig(err))
}

func TestManagerReplace(t *testing.T) {
	mgr, err := NewManager(DefaultDispatch(), nil, nil)
	require.NoError(t, err)

	next := DefaultDispatch()
	next.TaskTimeout = 90
	next.HealthCheckInterval = 15

	require.NoError(t, mgr.Replace(next))
	assert.Equal(t, next, mgr.Snapshot())

	bad := DefaultDispatch()
	bad.QueueTimeout = 1
	require.Error(t, mgr.Replace(bad))
	assert.Equal(t, next, mgr.Snapshot(), "failed replace must not change live config")
}

func TestManagerPersistsToStore(t *testing.T) {
	database := foremantesting.CreateTestDB(t)
	store := NewStore(database)

	mgr, err := NewManager(DefaultDispatch(), store, nil)
	require.NoError(t, err)

	_, err = mgr.Apply(Patch{MaxRetries: util.Ptr(7)})
	require.NoError(t, err)

	// A fresh load over defaults sees the persisted value
	loaded, err := store.LoadDispatch(DefaultDispatch())
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.MaxRetries)
}
