package main

import (
	"fmt"

	"github.com/theimaginaryfoundation/soulprint/config"
)

type Config struct {
	ConfigPath  string
	DSN         string
	Threshold   int
	MaxProfiles int
	JSON        bool
	LogLevel    string
}

func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("--threshold must be within 0..100, got %d", c.Threshold)
	}
	if c.MaxProfiles < 0 {
		return fmt.Errorf("--max-profiles must be >= 0, got %d", c.MaxProfiles)
	}
	return nil
}

func defaultConfig() Config {
	return Config{}
}

// withService fills unset flags from the service configuration and writes the flag values back
// into it so app.Scheduler sees them.
func (c Config) withService(svc config.Config) (Config, config.Config) {
	if c.DSN == "" {
		c.DSN = svc.Database.DSN
	}
	if c.LogLevel == "" {
		c.LogLevel = svc.Log.Level
	}
	if c.Threshold == 0 {
		c.Threshold = svc.Quality.Threshold
	}
	if c.MaxProfiles == 0 {
		c.MaxProfiles = svc.Quality.MaxProfiles
	}
	svc.Database.DSN = c.DSN
	svc.Quality.Threshold = c.Threshold
	svc.Quality.MaxProfiles = c.MaxProfiles
	return c, svc
}
