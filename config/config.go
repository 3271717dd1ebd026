// Package config loads the service and trainer settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"clinique/training"
)

const envPrefix = "CLINIQUE_"

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Models    ModelsConfig    `yaml:"models"`
	Database  DatabaseConfig  `yaml:"database"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Training  training.Config `yaml:"training"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ModelsConfig struct {
	Dir string `yaml:"dir"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SentimentConfig struct {
	// CacheSize of 0 disables the score cache.
	CacheSize *int `yaml:"cache_size"`
}

// CacheEntries resolves the configured cache size, 1024 when unset.
func (c SentimentConfig) CacheEntries() int {
	if c.CacheSize == nil {
		return 1024
	}
	return *c.CacheSize
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           8000,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Models:   ModelsConfig{Dir: "models"},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "clinique.db"},
		Training: training.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults, then applies .env and
// CLINIQUE_* environment overrides. A missing file leaves the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envPrefix + "HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHTTP_PORT: %w", envPrefix, err)
		}
		cfg.HTTP.Port = port
	}
	if v, ok := lookup(envPrefix + "MODELS_DIR"); ok {
		cfg.Models.Dir = v
	}
	if v, ok := lookup(envPrefix + "DB_DRIVER"); ok {
		cfg.Database.Driver = v
	}
	if v, ok := lookup(envPrefix + "DB_DSN"); ok {
		cfg.Database.DSN = v
	}
	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup(envPrefix + "TIMEZONE"); ok {
		cfg.Training.Timezone = v
	}
	return nil
}

func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Models.Dir == "" {
		return errors.New("models.dir is required")
	}
	if c.Sentiment.CacheEntries() < 0 {
		return errors.New("sentiment.cache_size must not be negative")
	}
	if _, err := c.Training.Location(); err != nil {
		return fmt.Errorf("training.%w", err)
	}
	return nil
}
