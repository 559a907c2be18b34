package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/errors"
)

// ConfigCmd groups configuration inspection and editing
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit foreman configuration",
	Long: `Inspect and edit foreman configuration.

Reads the layered configuration (system, user, project, environment).
Writes go to the user config file (~/.foreman/foreman.toml); a running
server picks file changes up without a restart. Tunables changed through
PATCH /api/config persist in the database and take precedence over the
file.

Examples:
  foreman config show                  # Full configuration as TOML
  foreman config show --format json    # ... or JSON
  foreman config get task_timeout      # One dispatch tunable
  foreman config get server.port       # Any key by dot path
  foreman config set max_retries 5     # Persist a dispatch tunable`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the merged configuration from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value by dot path (e.g. server.port) or bare dispatch key (e.g. task_timeout)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a dispatch tunable in the user config file",
	Long: `Set a dispatch tunable and write it to the user config file.

Valid keys: task_timeout, queue_timeout, max_queue_size, enable_priority,
max_retries, retry_delay, health_check_interval, instance_timeout`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configFormat string

func init() {
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# foreman configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# foreman configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := config.NewViper()
	if !v.IsSet(key) {
		// Bare dispatch keys are a convenience for the hot tunables
		if v.IsSet("dispatch." + key) {
			key = "dispatch." + key
		} else {
			return fmt.Errorf("configuration key %q not found", key)
		}
	}

	fmt.Println(v.Get(key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dispatchCfg := cfg.Dispatch
	if err := applyDispatchKey(&dispatchCfg, key, raw); err != nil {
		return err
	}
	if err := dispatchCfg.Validate(); err != nil {
		return err
	}

	fs := config.NewFileStore("")
	if err := fs.WriteDispatch(dispatchCfg); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	pterm.Success.Printf("Set %s = %s (written to %s)\n", key, raw, fs.Path())
	return nil
}

// applyDispatchKey parses and assigns one dispatch tunable by its wire name
func applyDispatchKey(cfg *config.DispatchConfig, key, raw string) error {
	if key == "enable_priority" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.Newf("value for %s must be true or false, got %q", key, raw)
		}
		cfg.EnablePriority = b
		return nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return errors.Newf("value for %s must be an integer, got %q", key, raw)
	}

	switch key {
	case "task_timeout":
		cfg.TaskTimeout = n
	case "queue_timeout":
		cfg.QueueTimeout = n
	case "max_queue_size":
		cfg.MaxQueueSize = n
	case "max_retries":
		cfg.MaxRetries = n
	case "retry_delay":
		cfg.RetryDelay = n
	case "health_check_interval":
		cfg.HealthCheckInterval = n
	case "instance_timeout":
		cfg.InstanceTimeout = n
	default:
		return errors.Newf("unknown dispatch key %q", key)
	}
	return nil
}
