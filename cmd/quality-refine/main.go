package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theimaginaryfoundation/soulprint/app"
	"github.com/theimaginaryfoundation/soulprint/config"
	"github.com/theimaginaryfoundation/soulprint/logging"
	"github.com/theimaginaryfoundation/soulprint/quality"
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
		Use:   "quality-refine",
		Short: "Score unscored profiles and redraft their weakest sections (one bounded batch)",
		Example: "  quality-refine\n" +
			"  quality-refine --threshold 70 --max-profiles 3 --json",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(cfg.ConfigPath)
			if err != nil {
				return err
			}
			c, svc := cfg.withService(loaded)
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
			return run(ctx, app.Scheduler(svc, st, log), c.JSON, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Optional YAML config file")
	f.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres connection string (overrides config)")
	f.IntVar(&cfg.Threshold, "threshold", cfg.Threshold, "Sub-score below which a section is redrafted (0 uses config)")
	f.IntVar(&cfg.MaxProfiles, "max-profiles", cfg.MaxProfiles, "Profiles processed in this batch (0 uses config)")
	f.BoolVar(&cfg.JSON, "json", cfg.JSON, "Print the full run result as JSON")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (overrides config)")
	return cmd
}

func run(ctx context.Context, sched *quality.Scheduler, asJSON bool, out io.Writer) error {
	res, err := sched.Run(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(out, "profiles_checked=%d sections_refined=%d errors=%d\n", res.ProfilesChecked, res.SectionsRefined, len(res.Errors))
	for _, r := range res.Results {
		fmt.Fprintf(out, "profile user_id=%s status=%s flagged=%s refined=%s", r.UserID, r.Status, joinSections(r.FlaggedSections), joinSections(r.RefinedSections))
		if r.Reason != "" {
			fmt.Fprintf(out, " reason=%q", r.Reason)
		}
		if r.Error != "" {
			fmt.Fprintf(out, " err=%q", r.Error)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func joinSections(secs []quality.Section) string {
	if len(secs) == 0 {
		return "-"
	}
	parts := make([]string, len(secs))
	for i, s := range secs {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func parseFlags(args []string) (Config, error) {
	cfg := defaultConfig()
	if err := newRootCmd(&cfg).ParseFlags(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
