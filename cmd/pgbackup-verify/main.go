// Command pgbackup-verify drives pkg/verify.Engine against a repository and
// prints its Report. Option parsing is intentionally minimal: a full
// stanza/repo option grammar belongs to a caller's own CLI layer; this
// binary exists to exercise pkg/config, pkg/repo, and pkg/verify end to end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgbackup/corebackup/internal/logger"
	"github.com/pgbackup/corebackup/pkg/config"
	"github.com/pgbackup/corebackup/pkg/metrics"
	"github.com/pgbackup/corebackup/pkg/repo"
	"github.com/pgbackup/corebackup/pkg/verify"
	"github.com/pgbackup/corebackup/pkg/verify/localpool"
	"github.com/pgbackup/corebackup/pkg/verify/report"
)

var (
	configPath  string
	outputJSON  bool
	backupLabel string
)

func main() {
	root := &cobra.Command{
		Use:   "pgbackup-verify",
		Short: "Verify a content-addressed backup repository",
		Long: `pgbackup-verify walks a repository's backups and archived WAL, checking
every stored object's size and checksum against its manifest, and reports
any gap in WAL coverage a backup's restore would need.`,
		RunE: run,
	}
	root.Flags().StringVar(&configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/corebackup/config.yaml)")
	root.Flags().BoolVar(&outputJSON, "json", false, "Render the report as JSON instead of text")
	root.Flags().StringVar(&backupLabel, "backup", "", "Restrict verification to one backup and everything it references")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	store, err := repo.NewPosixStore(cfg.Repository.Path)
	if err != nil {
		return fmt.Errorf("opening repository at %s: %w", cfg.Repository.Path, err)
	}

	pool := localpool.New(store, cfg.Verify.Workers, cfg.Verify.RetrySchedule)
	if vm := metrics.NewVerifyMetrics(); vm != nil {
		pool.WithObserver(vm)
	}

	engine := &verify.Engine{
		Store:             store,
		Pool:              pool,
		WALSegmentSize:    cfg.Cluster.WALSegmentSize,
		PGVersion:         cfg.Cluster.PGVersion,
		BackupLabelFilter: backupLabel,
	}

	rep, err := engine.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("running verify: %w", err)
	}

	var renderErr error
	if outputJSON {
		renderErr = report.RenderJSON(os.Stdout, rep)
	} else {
		renderErr = report.RenderText(os.Stdout, rep)
	}
	if renderErr != nil {
		return fmt.Errorf("rendering report: %w", renderErr)
	}

	if !rep.OK() {
		os.Exit(1)
	}
	return nil
}
