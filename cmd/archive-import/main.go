package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/app"
	"github.com/theimaginaryfoundation/soulprint/config"
	"github.com/theimaginaryfoundation/soulprint/importer"
	"github.com/theimaginaryfoundation/soulprint/logging"
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
		Use:   "archive-import",
		Short: "Import a conversation export for one user and build their profile",
		Example: "  archive-import --user u_123 --in export.zip\n" +
			"  archive-import --user u_123 --in conversations.json --template-only",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(cfg.ConfigPath)
			if err != nil {
				return err
			}
			c, svc := cfg.withService(loaded)
			c.InputPath = filepath.Clean(c.InputPath)
			if err := c.Validate(); err != nil {
				return err
			}
			log, err := logging.New(c.LogLevel, svc.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			st, closeStore, err := app.OpenStore(ctx, svc.Database, log)
			if err != nil {
				return err
			}
			defer closeStore()
			sink, err := app.ProgressSink(ctx, svc.MQTT, log)
			if err != nil {
				// Progress events are optional; the status row is still written.
				log.Warn("mqtt unavailable, progress will not be published", zap.Error(err))
			}
			return run(ctx, app.Importer(svc, st, sink, log), c, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Optional YAML config file")
	f.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres connection string (overrides config; empty runs in memory)")
	f.StringVar(&cfg.UserID, "user", cfg.UserID, "User id the import belongs to")
	f.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Path to conversations.json or a ZIP export")
	f.StringVar(&cfg.Name, "name", cfg.Name, "User display name for the profile")
	f.BoolVar(&cfg.TemplateOnly, "template-only", cfg.TemplateOnly, "Skip model calls and build the profile from templates")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (overrides config)")
	return cmd
}

func run(ctx context.Context, svc *importer.Service, cfg Config, out io.Writer) error {
	res, err := svc.Run(ctx, cfg.UserID, importer.Source{Path: cfg.InputPath, Name: cfg.Name})
	fmt.Fprintf(out, "user_id=%s job_id=%s status=%s stage=%s progress=%d extraction_path=%s\n",
		res.Job.UserID, res.Job.ID, res.Job.Status, res.Job.Stage, res.Job.ProgressPercent, res.Job.ExtractionPath)
	if err != nil {
		fmt.Fprintf(out, "import_error=%q\n", res.Job.Error)
		return err
	}
	fmt.Fprintf(out, "threads=%d messages=%d messages_dropped=%d chunks=%d profile_revision=%d\n",
		res.Threads, res.Messages, res.Stats.Dropped(), res.Chunks, res.Profile.Revision)
	return nil
}

func parseFlags(args []string) (Config, error) {
	cfg := defaultConfig()
	if err := newRootCmd(&cfg).ParseFlags(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
