package main

import (
	"errors"
	"path/filepath"
)

type Config struct {
	InputPath  string
	OutputDir  string
	ArrayField string
	Pretty     bool
	Overwrite  bool
}

func (c Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("missing --in")
	}
	if c.OutputDir == "" {
		return errors.New("missing --out")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		InputPath: filepath.FromSlash("data/conversations.json"),
		OutputDir: filepath.FromSlash("data/threads"),
	}
}
