// Package config loads the daemon settings: compiled defaults, an optional
// YAML file, then AGENTD_* environment variables, in that order. Command
// line flags override all three at the call site.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon and CLI configuration.
type Config struct {
	// DBPath is the SQLite database file. Parent directories are created
	// on open.
	DBPath string `yaml:"db_path"`
	// DataRoot holds per-session workspace and artifact directories.
	DataRoot string `yaml:"data_root"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_origins"`

	// BaseURL and Token are the doctor probe's connection settings.
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// DefaultConfig returns the compiled-in settings.
func DefaultConfig() Config {
	return Config{
		DBPath:   "data/agentd.db",
		DataRoot: "data",
		Host:     "127.0.0.1",
		Port:     8787,
		LogLevel: "info",
		BaseURL:  "http://127.0.0.1:8787",
	}
}

// Load resolves the configuration. A missing .env file is fine; a named
// config file that does not exist is an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("AGENTD_DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := os.LookupEnv("AGENTD_DATA_ROOT"); ok {
		c.DataRoot = v
	}
	if v, ok := os.LookupEnv("AGENTD_HOST"); ok {
		c.Host = v
	}
	if v, ok := os.LookupEnv("AGENTD_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTD_PORT must be an integer, got %q", v)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv("AGENTD_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("AGENTD_CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("AGENTD_BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv("AGENTD_TOKEN"); ok {
		c.Token = v
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
