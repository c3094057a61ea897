package main

import (
	"errors"

	"github.com/theimaginaryfoundation/soulprint/config"
)

type Config struct {
	ConfigPath   string
	DSN          string
	UserID       string
	InputPath    string
	Name         string
	TemplateOnly bool
	LogLevel     string
}

func (c Config) Validate() error {
	if c.UserID == "" {
		return errors.New("missing --user")
	}
	if c.InputPath == "" {
		return errors.New("missing --in")
	}
	return nil
}

func defaultConfig() Config {
	return Config{}
}

func (c Config) withService(svc config.Config) (Config, config.Config) {
	if c.DSN == "" {
		c.DSN = svc.Database.DSN
	}
	if c.LogLevel == "" {
		c.LogLevel = svc.Log.Level
	}
	svc.Database.DSN = c.DSN
	if c.TemplateOnly {
		svc.OpenAI.APIKey = ""
	}
	return c, svc
}
