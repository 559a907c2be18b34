package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/db"
	"github.com/teranos/foreman/dispatch"
	"github.com/teranos/foreman/errors"
	"github.com/teranos/foreman/logger"
)

// InstancesCmd manages the worker fleet from the command line
var InstancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Manage the worker fleet",
	Long: `Manage registered parse worker instances.

These commands operate directly on the foreman database. A running
server sees imported workers after a restart; for live registration use
POST /api/instances instead.

Examples:
  foreman instances ls                 # List registered workers
  foreman instances import fleet.toml  # Bulk-register from a fleet file
  foreman instances import fleet.yaml`,
}

var instancesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered worker instances",
	RunE:  runInstancesLs,
}

var instancesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-register workers from a TOML or YAML fleet file",
	Long: `Register every instance listed in a fleet file. Entries whose name is
already registered are skipped.

TOML:
  [[instances]]
  name = "gpu-1"
  url = "http://10.0.0.5:8888"
  backend = "pipeline"

YAML:
  instances:
    - name: gpu-1
      url: http://10.0.0.5:8888
      backend: vlm-transformers
      enabled: false`,
	Args: cobra.ExactArgs(1),
	RunE: runInstancesImport,
}

var instancesDBPath string

func init() {
	InstancesCmd.PersistentFlags().StringVar(&instancesDBPath, "db-path", "", "Custom database path (overrides config)")
	InstancesCmd.AddCommand(instancesLsCmd)
	InstancesCmd.AddCommand(instancesImportCmd)
}

// fleetFile is the on-disk shape for bulk worker registration
type fleetFile struct {
	Instances []fleetInstance `toml:"instances" yaml:"instances"`
}

type fleetInstance struct {
	Name    string `toml:"name" yaml:"name"`
	URL     string `toml:"url" yaml:"url"`
	Backend string `toml:"backend" yaml:"backend"`
	Enabled *bool  `toml:"enabled" yaml:"enabled"`
}

func openInstancesStore() (*dispatch.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	dbPath := cfg.GetDatabasePath()
	if instancesDBPath != "" {
		dbPath = instancesDBPath
	}
	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}
	return dispatch.NewStore(database), func() { database.Close() }, nil
}

func runInstancesLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openInstancesStore()
	if err != nil {
		return err
	}
	defer closeDB()

	workers, err := store.ListWorkers()
	if err != nil {
		return errors.Wrap(err, "failed to list workers")
	}
	if len(workers) == 0 {
		pterm.Info.Println("No worker instances registered")
		return nil
	}

	rows := pterm.TableData{{"NAME", "URL", "BACKEND", "STATUS", "ENABLED", "JOBS", "FAILED"}}
	for _, w := range workers {
		rows = append(rows, []string{
			w.Name,
			w.URL,
			w.Backend,
			string(w.Status),
			fmt.Sprintf("%t", w.Enabled),
			fmt.Sprintf("%d", w.TotalJobs),
			fmt.Sprintf("%d", w.FailedJobs),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runInstancesImport(cmd *cobra.Command, args []string) error {
	fleet, err := loadFleetFile(args[0])
	if err != nil {
		return err
	}
	if len(fleet.Instances) == 0 {
		return errors.Newf("no instances found in %s", args[0])
	}

	store, closeDB, err := openInstancesStore()
	if err != nil {
		return err
	}
	defer closeDB()

	existing, err := store.ListWorkers()
	if err != nil {
		return errors.Wrap(err, "failed to list workers")
	}
	taken := make(map[string]bool, len(existing))
	for _, w := range existing {
		taken[w.Name] = true
	}

	added, skipped := 0, 0
	for i, entry := range fleet.Instances {
		if entry.Name == "" || entry.URL == "" {
			return errors.Newf("instance %d: name and url are required", i+1)
		}
		if taken[entry.Name] {
			pterm.Warning.Printf("Skipping %s: name already registered\n", entry.Name)
			skipped++
			continue
		}

		worker := dispatch.NewWorker(entry.Name, entry.URL, entry.Backend)
		if entry.Enabled != nil && !*entry.Enabled {
			worker.Enabled = false
			worker.Status = dispatch.WorkerStatusDisabled
		}
		if err := store.SaveWorker(worker); err != nil {
			return errors.Wrapf(err, "failed to save worker %s", entry.Name)
		}
		taken[entry.Name] = true
		added++
	}

	pterm.Success.Printf("Imported %d instance(s), skipped %d\n", added, skipped)
	return nil
}

// loadFleetFile parses a fleet file by extension: .toml, .yaml, or .yml
func loadFleetFile(path string) (*fleetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read fleet file %s", path)
	}

	var fleet fleetFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &fleet); err != nil {
			return nil, errors.Wrapf(err, "failed to parse TOML fleet file %s", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fleet); err != nil {
			return nil, errors.Wrapf(err, "failed to parse YAML fleet file %s", path)
		}
	default:
		return nil, errors.Newf("unsupported fleet file extension %q (use .toml, .yaml, or .yml)", filepath.Ext(path))
	}
	return &fleet, nil
}
