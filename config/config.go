// Package config loads service settings from an optional YAML file and SOULPRINT_* environment
// variables. Environment values win over the file, and the file wins over defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SOULPRINT_DATABASE_DSN.
const EnvPrefix = "SOULPRINT"

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Research   ResearchConfig   `mapstructure:"research"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Server     ServerConfig     `mapstructure:"server"`
	Import     ImportConfig     `mapstructure:"import"`
	Quality    QualityConfig    `mapstructure:"quality"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	// DSN is a Postgres connection string. Empty selects the in-memory store.
	DSN string `mapstructure:"dsn"`
}

type OpenAIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	JudgeModel  string `mapstructure:"judge_model"`
	ServiceTier string `mapstructure:"service_tier"`
}

type TranscribeConfig struct {
	// Vendor is "assemblyai" or "deepgram".
	Vendor    string        `mapstructure:"vendor"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Punctuate bool          `mapstructure:"punctuate"`
	Diarize   bool          `mapstructure:"diarize"`
	Sentiment bool          `mapstructure:"sentiment"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
}

type ResearchConfig struct {
	PrimaryURL   string        `mapstructure:"primary_url"`
	PrimaryKey   string        `mapstructure:"primary_key"`
	PrimaryModel string        `mapstructure:"primary_model"`
	FallbackURL  string        `mapstructure:"fallback_url"`
	FallbackKey  string        `mapstructure:"fallback_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type MQTTConfig struct {
	// Broker is e.g. tcp://localhost:1883. Empty disables progress publishing.
	Broker      string `mapstructure:"broker"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	CronSecret string `mapstructure:"cron_secret"`
	UploadDir  string `mapstructure:"upload_dir"`
}

type ImportConfig struct {
	ExtractionThresholdBytes int64         `mapstructure:"extraction_threshold_bytes"`
	StaleAfter               time.Duration `mapstructure:"stale_after"`
	TargetTurns              int           `mapstructure:"target_turns"`
	SampleMessages           int           `mapstructure:"sample_messages"`
}

type QualityConfig struct {
	Threshold     int `mapstructure:"threshold"`
	UnscoredLimit int `mapstructure:"unscored_limit"`
	LowLimit      int `mapstructure:"low_limit"`
	MaxProfiles   int `mapstructure:"max_profiles"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database.dsn", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-5-mini")
	v.SetDefault("openai.judge_model", "gpt-5-nano")
	v.SetDefault("openai.service_tier", "flex")

	v.SetDefault("transcribe.vendor", "assemblyai")
	v.SetDefault("transcribe.api_key", "")
	v.SetDefault("transcribe.base_url", "")
	v.SetDefault("transcribe.timeout", 2*time.Minute)
	v.SetDefault("transcribe.punctuate", true)
	v.SetDefault("transcribe.diarize", false)
	v.SetDefault("transcribe.sentiment", true)
	v.SetDefault("transcribe.max_wait", 10*time.Minute)

	v.SetDefault("research.primary_url", "https://api.perplexity.ai")
	v.SetDefault("research.primary_key", "")
	v.SetDefault("research.primary_model", "sonar")
	v.SetDefault("research.fallback_url", "https://api.tavily.com")
	v.SetDefault("research.fallback_key", "")
	v.SetDefault("research.timeout", 20*time.Second)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "soulprint")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cron_secret", "")
	v.SetDefault("server.upload_dir", "")

	v.SetDefault("import.extraction_threshold_bytes", int64(100<<20))
	v.SetDefault("import.stale_after", 30*time.Minute)
	v.SetDefault("import.target_turns", 20)
	v.SetDefault("import.sample_messages", 200)

	v.SetDefault("quality.threshold", 60)
	v.SetDefault("quality.unscored_limit", 5)
	v.SetDefault("quality.low_limit", 5)
	v.SetDefault("quality.max_profiles", 10)
}

// Load reads path (when non-empty) and applies environment overrides. A missing file is an error;
// an empty path means environment and defaults only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config.Load: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with. Missing vendor keys are not errors; the
// components that need them degrade or refuse on their own.
func (c Config) Validate() error {
	switch c.Transcribe.Vendor {
	case "assemblyai", "deepgram":
	default:
		return fmt.Errorf("config: transcribe.vendor must be assemblyai or deepgram, got %q", c.Transcribe.Vendor)
	}
	if c.Import.ExtractionThresholdBytes <= 0 {
		return fmt.Errorf("config: import.extraction_threshold_bytes must be positive")
	}
	if c.Import.StaleAfter <= 0 {
		return fmt.Errorf("config: import.stale_after must be positive")
	}
	if c.Quality.Threshold < 0 || c.Quality.Threshold > 100 {
		return fmt.Errorf("config: quality.threshold must be within 0..100, got %d", c.Quality.Threshold)
	}
	return nil
}
