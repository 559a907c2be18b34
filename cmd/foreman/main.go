package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/foreman/cmd/foreman/commands"
	"github.com/teranos/foreman/logger"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman - document parsing dispatch server",
	Long: `Foreman - request dispatcher for MinerU-compatible parse workers.

Foreman accepts document parsing jobs over HTTP, queues them by priority,
and distributes them across a fleet of remote worker instances with
retries, timeouts, and live stats over WebSocket.

Available commands:
  serve     - Start the dispatch server
  config    - Inspect and edit dispatch tunables
  instances - Manage the worker fleet from the command line
  version   - Show version information

Examples:
  foreman serve                       # Start the server on the configured port
  foreman serve --port 9000 -v       # Custom port with info logging
  foreman config get task_timeout     # Read one tunable
  foreman config set max_retries 5    # Persist a tunable to the config file
  foreman instances ls                # List registered workers
  foreman instances import fleet.toml # Bulk-register workers`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON log lines instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.InstancesCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
