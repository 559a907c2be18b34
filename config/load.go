package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/foreman/errors"
)

// Load reads the foreman configuration from all layered sources. Each call
// builds a fresh view; callers own the returned value and hand it to the
// services that need it.
func Load() (*Config, error) {
	return LoadWithViper(NewViper())
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Set defaults but don't bind environment variables for this specific load
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &config, nil
}

// NewViper builds a Viper instance with defaults, env binding, and the
// layered config files merged in precedence order.
func NewViper() *viper.Viper {
	v := viper.New()

	// Set up environment variable binding
	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific sensitive configuration values to environment variables
	BindSensitiveEnvVars(v)

	// Set defaults first
	SetDefaults(v)

	// Manually merge configs in precedence order: system -> user -> project -> env vars
	mergeConfigFiles(v)

	return v
}

// UserConfigPath returns the path of the user-level config file
// (~/.foreman/foreman.toml), or empty string if the home directory is
// unknown.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".foreman", "foreman.toml")
}

// findProjectConfig searches for foreman.toml or config.toml by walking up
// the directory tree. Returns the path to the first config file found, or
// empty string if none found. Preference order: foreman.toml > config.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Walk up the directory tree looking for config files
	for {
		foremanPath := filepath.Join(dir, "foreman.toml")
		if _, err := os.Stat(foremanPath); err == nil {
			return foremanPath
		}

		configPath := filepath.Join(dir, "config.toml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root, stop searching
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles manually merges configuration files in the correct precedence order
// Precedence (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Ensure ~/.foreman directory exists
	foremanDir := filepath.Join(homeDir, ".foreman")
	os.MkdirAll(foremanDir, DefaultDirPermissions)

	// Build config paths, with project config found via upward search.
	// System config has the lowest precedence, then the user files.
	projectConfig := findProjectConfig()
	configPaths := []string{
		"/etc/foreman/config.toml",
		filepath.Join(foremanDir, "foreman.toml"),
		filepath.Join(foremanDir, "config.toml"),
	}

	// Add project config if found (highest file precedence, below env vars)
	if projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}

	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err == nil {
			// Config file exists, merge it
			tempViper := viper.New()
			tempViper.SetConfigFile(configPath)
			tempViper.SetConfigType("toml")

			if err := tempViper.ReadInConfig(); err == nil {
				// Merge into the config layer so env vars keep precedence
				v.MergeConfigMap(tempViper.AllSettings())
			}
		}
	}
}
