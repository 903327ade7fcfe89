package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds server settings loaded from an optional YAML file, with
// QAHUB_* environment variables taking precedence.
type Config struct {
	Port       int    `yaml:"port"`
	DBPath     string `yaml:"db_path"`
	UploadsDir string `yaml:"uploads_dir"`
	WebDir     string `yaml:"web_dir"`
	BaseURL    string `yaml:"base_url"`
}

func defaultConfig() Config {
	return Config{
		Port:       9100,
		DBPath:     "qahub.db",
		UploadsDir: "uploads",
		WebDir:     "web",
		BaseURL:    "http://localhost:9100",
	}
}

// loadConfig reads the YAML config file if present, then applies environment
// overrides. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv("QAHUB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("QAHUB_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("QAHUB_UPLOADS_DIR"); v != "" {
		cfg.UploadsDir = v
	}
	if v := os.Getenv("QAHUB_WEB_DIR"); v != "" {
		cfg.WebDir = v
	}
	if v := os.Getenv("QAHUB_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}

	return cfg, nil
}
