package main

import (
	"errors"

	"github.com/theimaginaryfoundation/soulprint/config"
)

type Config struct {
	ConfigPath string
	Addr       string
	DSN        string
	UploadDir  string
	LogLevel   string
	// MaxJSONBytes caps JSON request bodies; archive uploads are streamed and not capped.
	MaxJSONBytes int64
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("missing --addr")
	}
	if c.MaxJSONBytes <= 0 {
		return errors.New("--max-json-bytes must be > 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{MaxJSONBytes: 8 << 20}
}

func (c Config) withService(svc config.Config) (Config, config.Config) {
	if c.Addr == "" {
		c.Addr = svc.Server.Addr
	}
	if c.DSN == "" {
		c.DSN = svc.Database.DSN
	}
	if c.UploadDir == "" {
		c.UploadDir = svc.Server.UploadDir
	}
	if c.LogLevel == "" {
		c.LogLevel = svc.Log.Level
	}
	svc.Server.Addr = c.Addr
	svc.Database.DSN = c.DSN
	svc.Server.UploadDir = c.UploadDir
	return c, svc
}
