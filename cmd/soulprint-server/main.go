package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/app"
	"github.com/theimaginaryfoundation/soulprint/config"
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
		Use:   "soulprint-server",
		Short: "Serve archive uploads, import status, voice analysis, research and the refinement cron",
		Example: "  soulprint-server --addr :8080\n" +
			"  SOULPRINT_SERVER_CRON_SECRET=s3cret soulprint-server --config soulprint.yaml",
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
			return serve(cmd.Context(), c, svc, log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Optional YAML config file")
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address (overrides config)")
	f.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres connection string (overrides config; empty runs in memory)")
	f.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "Directory for in-flight archive uploads (default: OS temp dir)")
	f.Int64Var(&cfg.MaxJSONBytes, "max-json-bytes", cfg.MaxJSONBytes, "Maximum size of JSON request bodies")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (overrides config)")
	return cmd
}

func serve(ctx context.Context, c Config, svc config.Config, log *zap.Logger) error {
	st, closeStore, err := app.OpenStore(ctx, svc.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, err := app.ProgressSink(ctx, svc.MQTT, log)
	if err != nil {
		log.Warn("mqtt unavailable, progress will not be published", zap.Error(err))
	}

	// Background imports outlive their requests but stop with the process.
	jobs, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	s := &server{
		store:        st,
		importer:     app.Importer(svc, st, sink, log),
		scheduler:    app.Scheduler(svc, st, log),
		transcriber:  app.Transcriber(svc.Transcribe, log),
		research:     app.Research(svc.Research, log),
		uploadDir:    c.UploadDir,
		staleAfter:   svc.Import.StaleAfter,
		cronSecret:   svc.Server.CronSecret,
		maxJSONBytes: c.MaxJSONBytes,
		now:          time.Now,
		log:          log,
		jobs:         jobs,
	}

	httpServer := &http.Server{
		Addr:              c.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("soulprint server started", zap.String("addr", c.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	// Imports still running are marked failed by their own error path.
	cancelJobs()
	s.wait()
	return nil
}
