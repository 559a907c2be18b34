package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	// Load config from isolated viper
	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	// Check default values are applied
	if cfg.Database.Path != "foreman.db" {
		t.Errorf("expected default database path 'foreman.db', got %q", cfg.Database.Path)
	}

	if cfg.GetServerPort() != DefaultServerPort {
		t.Errorf("expected default port %d, got %d", DefaultServerPort, cfg.GetServerPort())
	}

	if cfg.GetServerHost() != DefaultServerHost {
		t.Errorf("expected default host %q, got %q", DefaultServerHost, cfg.GetServerHost())
	}

	if cfg.Dispatch.TaskTimeout != DefaultTaskTimeout {
		t.Errorf("expected default task timeout %d, got %d", DefaultTaskTimeout, cfg.Dispatch.TaskTimeout)
	}

	if !cfg.Dispatch.EnablePriority {
		t.Error("expected priority scheduling enabled by default")
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	// Verify critical defaults are set
	tests := []struct {
		key      string
		expected interface{}
	}{
		{"database.path", "foreman.db"},
		{"server.host", DefaultServerHost},
		{"server.port", DefaultServerPort},
		{"log.json", false},
		{"dispatch.task_timeout", DefaultTaskTimeout},
		{"dispatch.queue_timeout", DefaultQueueTimeout},
		{"dispatch.max_queue_size", DefaultMaxQueueSize},
		{"dispatch.enable_priority", DefaultEnablePriority},
		{"dispatch.max_retries", DefaultMaxRetries},
		{"dispatch.retry_delay", DefaultRetryDelay},
		{"dispatch.health_check_interval", DefaultHealthCheckInterval},
		{"dispatch.instance_timeout", DefaultInstanceTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := v.Get(tt.key)
			if got != tt.expected {
				t.Errorf("default %s = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "foreman.toml")

	content := `
[server]
port = 9100

[database]
path = "/var/lib/foreman/test.db"

[dispatch]
task_timeout = 120
max_queue_size = 25
enable_priority = false
`
	if err := os.WriteFile(configPath, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.GetServerPort() != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.GetServerPort())
	}
	if cfg.Database.Path != "/var/lib/foreman/test.db" {
		t.Errorf("expected overridden database path, got %q", cfg.Database.Path)
	}
	if cfg.Dispatch.TaskTimeout != 120 {
		t.Errorf("expected task_timeout 120, got %d", cfg.Dispatch.TaskTimeout)
	}
	if cfg.Dispatch.MaxQueueSize != 25 {
		t.Errorf("expected max_queue_size 25, got %d", cfg.Dispatch.MaxQueueSize)
	}
	if cfg.Dispatch.EnablePriority {
		t.Error("expected enable_priority false")
	}

	// Unset keys keep their defaults
	if cfg.Dispatch.QueueTimeout != DefaultQueueTimeout {
		t.Errorf("expected default queue_timeout %d, got %d", DefaultQueueTimeout, cfg.Dispatch.QueueTimeout)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("FOREMAN_DISPATCH_TASK_TIMEOUT", "45")
	defer os.Unsetenv("FOREMAN_DISPATCH_TASK_TIMEOUT")

	cfg, err := LoadWithViper(NewViper())
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Dispatch.TaskTimeout != 45 {
		t.Errorf("expected env override 45, got %d", cfg.Dispatch.TaskTimeout)
	}
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("prefers foreman.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		// Create both config files
		os.WriteFile(filepath.Join(tmpDir, "test1", "foreman.toml"), []byte(""), DefaultFilePermissions)
		os.WriteFile(filepath.Join(tmpDir, "test1", "config.toml"), []byte(""), DefaultFilePermissions)

		// Change to subdirectory
		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Error("expected to find config file")
		}
		if filepath.Base(result) != "foreman.toml" {
			t.Errorf("expected foreman.toml, got %s", filepath.Base(result))
		}
	})

	t.Run("fallback to config.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		// Create only config.toml
		os.WriteFile(filepath.Join(tmpDir, "test2", "config.toml"), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result == "" {
			t.Error("expected to find config file")
		}
		if filepath.Base(result) != "config.toml" {
			t.Errorf("expected config.toml, got %s", filepath.Base(result))
		}
	})

	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test3", "subdir")
		os.MkdirAll(subDir, DefaultDirPermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})
}

func TestDurationHelpers(t *testing.T) {
	d := DispatchConfig{
		TaskTimeout:         300,
		QueueTimeout:        600,
		RetryDelay:          5,
		HealthCheckInterval: 30,
		InstanceTimeout:     10,
	}

	if got := d.TaskTimeoutDuration().Seconds(); got != 300 {
		t.Errorf("TaskTimeoutDuration = %vs, want 300s", got)
	}
	if got := d.QueueTimeoutDuration().Seconds(); got != 600 {
		t.Errorf("QueueTimeoutDuration = %vs, want 600s", got)
	}
	if got := d.RetryDelayDuration().Seconds(); got != 5 {
		t.Errorf("RetryDelayDuration = %vs, want 5s", got)
	}
	if got := d.HealthCheckIntervalDuration().Seconds(); got != 30 {
		t.Errorf("HealthCheckIntervalDuration = %vs, want 30s", got)
	}
	if got := d.InstanceTimeoutDuration().Seconds(); got != 10 {
		t.Errorf("InstanceTimeoutDuration = %vs, want 10s", got)
	}
}
