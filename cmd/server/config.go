package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/stream-chat-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port        string        `yaml:"port"`
	EndpointURL string        `yaml:"endpointURL"`
	LogLevel    string        `yaml:"logLevel"`
	History     historyConfig `yaml:"history"`
}

type historyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

const (
	defaultPort = "8080"

	configDirName = "streamchat"
)

// loadConfig reads the YAML file at path, tolerating its absence, then applies defaults and environment
// overrides. cfgDir is where relative state such as the history database lives.
func loadConfig(path, cfgDir string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.Port = envStr("STREAMCHAT_PORT", cfg.Port, defaultPort)
	cfg.EndpointURL = envStr("STREAMCHAT_ENDPOINT_URL", cfg.EndpointURL, services.DefaultEndpointURL)
	cfg.LogLevel = envStr("STREAMCHAT_LOG_LEVEL", cfg.LogLevel, "info")
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfgDir, "history.db")
	}

	return cfg, nil
}

// envStr returns the environment variable key when set, else value, else fallback.
func envStr(key, value, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if value != "" {
		return value
	}
	return fallback
}
