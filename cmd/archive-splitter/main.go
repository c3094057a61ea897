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

	"github.com/theimaginaryfoundation/soulprint/archive"
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
		Use:   "archive-splitter",
		Short: "Split a conversation export into one normalized JSON file per thread",
		Example: "  archive-splitter --pretty --overwrite\n" +
			"  archive-splitter --in export.zip --out data/threads",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.InputPath = filepath.Clean(cfg.InputPath)
			cfg.OutputDir = filepath.Clean(cfg.OutputDir)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), *cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Path to conversations.json or a ZIP export")
	f.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory to write per-thread JSON files into")
	f.BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "Pretty-print each output JSON file")
	f.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "Overwrite existing output files")
	f.StringVar(&cfg.ArrayField, "array-field", cfg.ArrayField, "If the top-level JSON is an object, name of the field holding the conversations array")
	return cmd
}

func run(ctx context.Context, cfg Config, out io.Writer) error {
	res, err := archive.SplitConversationArchive(ctx, cfg.InputPath, cfg.OutputDir, archive.SplitOptions{
		ArrayField:        cfg.ArrayField,
		OverwriteExisting: cfg.Overwrite,
		Pretty:            cfg.Pretty,
		DirMode:           0o755,
		FileMode:          0o644,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "threads_written=%d bytes_written=%d messages_kept=%d messages_dropped=%d out_dir=%s\n",
		res.ThreadsWritten, res.BytesWritten, res.Stats.Kept, res.Stats.Dropped(), cfg.OutputDir)
	return nil
}

// parseFlags applies args to the defaults without running the command.
func parseFlags(args []string) (Config, error) {
	cfg := defaultConfig()
	if err := newRootCmd(&cfg).ParseFlags(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
