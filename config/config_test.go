package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Import.ExtractionThresholdBytes != 100<<20 {
		t.Fatalf("ExtractionThresholdBytes=%d", cfg.Import.ExtractionThresholdBytes)
	}
	if cfg.Import.StaleAfter != 30*time.Minute {
		t.Fatalf("StaleAfter=%s", cfg.Import.StaleAfter)
	}
	if cfg.Quality.Threshold != 60 || cfg.Quality.MaxProfiles != 10 {
		t.Fatalf("quality=%+v", cfg.Quality)
	}
	if !cfg.Transcribe.Punctuate || cfg.Transcribe.Diarize || !cfg.Transcribe.Sentiment || cfg.Transcribe.MaxWait != 10*time.Minute {
		t.Fatalf("transcribe flags=%+v", cfg.Transcribe)
	}
	if cfg.OpenAI.ServiceTier != "flex" {
		t.Fatalf("ServiceTier=%q", cfg.OpenAI.ServiceTier)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soulprint.yaml")
	yaml := []byte(`
database:
  dsn: postgres://file/db
quality:
  threshold: 70
import:
  stale_after: 10m
mqtt:
  broker: tcp://broker:1883
`)
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("SOULPRINT_DATABASE_DSN", "postgres://env/db")
	t.Setenv("SOULPRINT_SERVER_CRON_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Fatalf("DSN=%q, want env override", cfg.Database.DSN)
	}
	if cfg.Quality.Threshold != 70 {
		t.Fatalf("Threshold=%d, want 70", cfg.Quality.Threshold)
	}
	if cfg.Import.StaleAfter != 10*time.Minute {
		t.Fatalf("StaleAfter=%s", cfg.Import.StaleAfter)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.TopicPrefix != "soulprint" {
		t.Fatalf("mqtt=%+v", cfg.MQTT)
	}
	if cfg.Server.CronSecret != "s3cret" {
		t.Fatalf("CronSecret=%q", cfg.Server.CronSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := Config{
		Transcribe: TranscribeConfig{Vendor: "deepgram"},
		Import:     ImportConfig{ExtractionThresholdBytes: 1, StaleAfter: time.Minute},
		Quality:    QualityConfig{Threshold: 60},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := ok
	bad.Transcribe.Vendor = "whisper"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected vendor error")
	}
	bad = ok
	bad.Quality.Threshold = 101
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected threshold error")
	}
}
