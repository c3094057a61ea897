package main

import (
	"errors"
	"fmt"

	"github.com/theimaginaryfoundation/soulprint/config"
)

type Config struct {
	ConfigPath string
	DSN        string
	DryRun     bool
	PageSize   int
	LogLevel   string

	// ReportPath, when set, also receives the summary as JSON.
	ReportPath string
}

func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.New("missing --dsn (or database.dsn / SOULPRINT_DATABASE_DSN)")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("--page-size must be > 0, got %d", c.PageSize)
	}
	return nil
}

func defaultConfig() Config {
	return Config{PageSize: 100}
}

// withService fills whatever the flags left empty from the loaded service configuration.
func (c Config) withService(svc config.Config) Config {
	if c.DSN == "" {
		c.DSN = svc.Database.DSN
	}
	if c.LogLevel == "" {
		c.LogLevel = svc.Log.Level
	}
	return c
}
