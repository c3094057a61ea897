// Package app builds pipeline components from configuration. The commands and the server share it
// so a setting means the same thing everywhere.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/archive"
	"github.com/theimaginaryfoundation/soulprint/config"
	"github.com/theimaginaryfoundation/soulprint/importer"
	"github.com/theimaginaryfoundation/soulprint/notify"
	"github.com/theimaginaryfoundation/soulprint/provider"
	"github.com/theimaginaryfoundation/soulprint/quality"
	"github.com/theimaginaryfoundation/soulprint/research"
	"github.com/theimaginaryfoundation/soulprint/soulprint"
	"github.com/theimaginaryfoundation/soulprint/store"
	"github.com/theimaginaryfoundation/soulprint/transcribe"
)

// OpenStore connects to Postgres and creates the tables, or falls back to an in-memory store when
// no DSN is configured. The returned func releases the connection pool.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (store.Store, func(), error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DSN == "" {
		log.Warn("no database dsn configured, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("OpenStore: ping: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("OpenStore: %w", err)
	}
	return pg, pg.Close, nil
}

// OpenAIClient returns nil when no API key is configured; callers then run template-only.
func OpenAIClient(cfg config.OpenAIConfig, model string, log *zap.Logger) *provider.Client {
	if cfg.APIKey == "" {
		return nil
	}
	var opts []option.RequestOption
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	c := provider.NewClient(cfg.APIKey, model, opts...)
	if cfg.ServiceTier != "" {
		c.ServiceTier = responses.ResponseNewParamsServiceTier(cfg.ServiceTier)
	}
	c.Logger = log
	return c
}

func Synthesizer(cfg config.Config, log *zap.Logger) *soulprint.Synthesizer {
	s := &soulprint.Synthesizer{SampleSize: cfg.Import.SampleMessages, Logger: log}
	if c := OpenAIClient(cfg.OpenAI, cfg.OpenAI.Model, log); c != nil {
		s.Generator = provider.Generator{Client: c}
	}
	return s
}

// Scorer grades with the model judge when one is configured and the heuristic otherwise.
// The heuristic also backs up a failing judge.
func Scorer(cfg config.Config, log *zap.Logger) quality.Scorer {
	heuristic := quality.HeuristicScorer{}
	c := OpenAIClient(cfg.OpenAI, cfg.OpenAI.JudgeModel, log)
	if c == nil {
		return heuristic
	}
	return quality.FallbackScorer{Primary: provider.Judge{Client: c}, Secondary: heuristic}
}

func Decider(cfg config.Config, log *zap.Logger) archive.BreakpointDecider {
	if c := OpenAIClient(cfg.OpenAI, cfg.OpenAI.Model, log); c != nil {
		return provider.BreakpointDecider{Client: c}
	}
	return archive.FixedDecider{}
}

func Transcriber(cfg config.TranscribeConfig, log *zap.Logger) transcribe.Transcriber {
	opts := transcribe.Options{Punctuate: cfg.Punctuate, Diarize: cfg.Diarize, Sentiment: cfg.Sentiment}
	switch cfg.Vendor {
	case "deepgram":
		d := transcribe.NewDeepgram(cfg.APIKey, cfg.Timeout)
		d.Options = opts
		d.BaseURL = cfg.BaseURL
		return d
	default:
		a := transcribe.NewAssemblyAI(cfg.APIKey, cfg.Timeout)
		a.Options = opts
		a.BaseURL = cfg.BaseURL
		a.Logger = log
		a.MaxWait = cfg.MaxWait
		return a
	}
}

// Research wires only the vendors that have keys. With neither, every lookup is the placeholder.
func Research(cfg config.ResearchConfig, log *zap.Logger) *research.Client {
	httpc := &http.Client{Timeout: cfg.Timeout}
	c := &research.Client{Logger: log}
	if cfg.PrimaryKey != "" {
		c.Primary = &research.Answering{BaseURL: cfg.PrimaryURL, APIKey: cfg.PrimaryKey, Model: cfg.PrimaryModel, HTTP: httpc}
	}
	if cfg.FallbackKey != "" {
		c.Fallback = &research.WebSearch{BaseURL: cfg.FallbackURL, APIKey: cfg.FallbackKey, HTTP: httpc}
	}
	return c
}

// ProgressSink connects the MQTT publisher, or returns nil when no broker is configured.
func ProgressSink(ctx context.Context, cfg config.MQTTConfig, log *zap.Logger) (importer.ProgressSink, error) {
	if cfg.Broker == "" {
		return nil, nil
	}
	pub, err := notify.Connect(ctx, notify.Config{
		BrokerURL:   cfg.Broker,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
	}, log)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func Importer(cfg config.Config, st store.Store, sink importer.ProgressSink, log *zap.Logger) *importer.Service {
	return &importer.Service{
		Store:               st,
		Synth:               Synthesizer(cfg, log),
		Scorer:              Scorer(cfg, log),
		Decider:             Decider(cfg, log),
		TargetTurnsPerChunk: cfg.Import.TargetTurns,
		ExtractionThreshold: cfg.Import.ExtractionThresholdBytes,
		Sink:                sink,
		Logger:              log,
	}
}

func Scheduler(cfg config.Config, st store.Store, log *zap.Logger) *quality.Scheduler {
	return &quality.Scheduler{
		Store:         st,
		Chunks:        st,
		Drafter:       soulprint.QualityDrafter{Synth: Synthesizer(cfg, log)},
		Scorer:        Scorer(cfg, log),
		Threshold:     cfg.Quality.Threshold,
		UnscoredLimit: cfg.Quality.UnscoredLimit,
		LowLimit:      cfg.Quality.LowLimit,
		MaxProfiles:   cfg.Quality.MaxProfiles,
		Logger:        log,
	}
}
