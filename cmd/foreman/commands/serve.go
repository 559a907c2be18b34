package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/db"
	"github.com/teranos/foreman/dispatch"
	"github.com/teranos/foreman/errors"
	"github.com/teranos/foreman/internal/httpclient"
	"github.com/teranos/foreman/logger"
	"github.com/teranos/foreman/metrics"
	"github.com/teranos/foreman/server"
)

// ServeCmd starts the foreman dispatch server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the foreman dispatch server",
	Long: `Launch the dispatch server: REST API, MinerU-compatible /file_parse
endpoint, live stats over WebSocket, and the dispatcher loop that drives
the worker fleet.`,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	serveDBPath  string
	serveCfgPath string
)

func init() {
	ServeCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (overrides config)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().StringVar(&serveCfgPath, "config", "", "Explicit config file (skips the layered search)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Default the server to info-level logging even without -v
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Logger

	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port := servePort
		cfg.Server.Port = &port
	}

	dbPath := cfg.GetDatabasePath()
	if serveDBPath != "" {
		dbPath = serveDBPath
	}
	database, err := db.OpenWithMigrations(dbPath, log)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// Runtime-set tunables live in the database and win over the file
	cfgStore := config.NewStore(database)
	dispatchCfg, err := cfgStore.LoadDispatch(cfg.Dispatch)
	if err != nil {
		return errors.Wrap(err, "failed to load dispatch config overrides")
	}
	manager, err := config.NewManager(dispatchCfg, cfgStore, log)
	if err != nil {
		return errors.Wrap(err, "invalid dispatch configuration")
	}

	watcher := watchConfigFile(cfgStore, manager, log)
	if watcher != nil {
		defer watcher.Stop()
	}

	store := dispatch.NewStore(database)
	pool := dispatch.NewPool(log)
	workers, err := store.ListWorkers()
	if err != nil {
		log.Warnw("Failed to load persisted workers", "error", err.Error())
	} else {
		pool.Hydrate(workers)
	}

	client := dispatch.NewHTTPParseClient(httpclient.WrapClient(&http.Client{}), func() time.Duration {
		return manager.Snapshot().TaskTimeoutDuration()
	})
	collector := metrics.NewCollector()

	engine := dispatch.NewEngine(pool, client, manager, store, collector, log)
	engine.Start()

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go pool.RunHealthLoop(healthCtx, client, manager)

	printStartupBanner(verbosity, dbPath, cfg.GetServerHost(), cfg.GetServerPort(), pool.Len())

	srv := server.NewServer(server.Options{
		Engine:   engine,
		Pool:     pool,
		Store:    store,
		Dispatch: manager,
		Server:   cfg.Server,
		Metrics:  collector,
		Logger:   log,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		engine.Stop()
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		// First Ctrl+C - graceful shutdown
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			err := srv.Stop()
			engine.Stop()
			stopHealth()
			shutdownDone <- err
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			// Second Ctrl+C - force immediate exit
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// loadServeConfig loads either the explicit --config file or the layered
// search (system, user, project, env)
func loadServeConfig() (*config.Config, error) {
	if serveCfgPath != "" {
		cfg, err := config.LoadFromFile(serveCfgPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load config from %s", serveCfgPath)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

// watchConfigFile hot-reloads dispatch tunables when the config file
// changes on disk. Database overrides keep precedence over the file, so
// the reload re-merges before replacing the manager's view. Returns nil
// when there is no file to watch.
func watchConfigFile(cfgStore *config.Store, manager *config.Manager, log *zap.SugaredLogger) *config.Watcher {
	path := serveCfgPath
	if path == "" {
		path = config.UserConfigPath()
	}
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		log.Warnw("Config file watching disabled", "path", path, "error", err.Error())
		return nil
	}
	watcher.OnReload(func(next *config.Config) error {
		merged, err := cfgStore.LoadDispatch(next.Dispatch)
		if err != nil {
			return err
		}
		return manager.Replace(merged)
	})
	watcher.Start()
	log.Infow("Watching config file for changes", "path", path)
	return watcher
}
