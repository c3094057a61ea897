package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/app"
	"github.com/theimaginaryfoundation/soulprint/config"
	"github.com/theimaginaryfoundation/soulprint/fileutils"
	"github.com/theimaginaryfoundation/soulprint/logging"
	"github.com/theimaginaryfoundation/soulprint/migrate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := defaultConfig()
	if err := newRootCmd(&cfg).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile-migrate",
		Short: "Bring every stored profile up to the current schema and print a per-format summary",
		Example: "  profile-migrate --dry-run --report migrate-report.json\n" +
			"  SOULPRINT_DATABASE_DSN=postgres://localhost/soulprint profile-migrate",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := config.Load(cfg.ConfigPath)
			if err != nil {
				return err
			}
			c := cfg.withService(svc)
			if err := c.Validate(); err != nil {
				return err
			}
			log, err := logging.New(c.LogLevel, svc.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			st, closeStore, err := app.OpenStore(ctx, config.DatabaseConfig{DSN: c.DSN}, log)
			if err != nil {
				return err
			}
			defer closeStore()
			return run(ctx, c, st, cmd.OutOrStdout(), log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Optional YAML config file")
	f.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres connection string (overrides config)")
	f.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Detect and normalize every row but write nothing")
	f.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Rows fetched per page")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (overrides config)")
	f.StringVar(&cfg.ReportPath, "report", cfg.ReportPath, "Also write the summary as JSON to this path")
	return cmd
}

// run prints the summary even when the scan stops early, so partial progress is visible.
func run(ctx context.Context, cfg Config, st migrate.Store, out io.Writer, log *zap.Logger) error {
	r := &migrate.Runner{Store: st, DryRun: cfg.DryRun, PageSize: cfg.PageSize, Logger: log}
	sum, err := r.Run(ctx)
	sum.Print(out)
	if cfg.ReportPath != "" {
		if werr := fileutils.WriteJSONFileAtomic(cfg.ReportPath, sum, true); werr != nil {
			return errors.Join(err, fmt.Errorf("write report %s: %w", cfg.ReportPath, werr))
		}
	}
	return err
}

func parseFlags(args []string) (Config, error) {
	cfg := defaultConfig()
	if err := newRootCmd(&cfg).ParseFlags(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
