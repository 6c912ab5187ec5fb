package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/archscope/archscope/internal/drift"
)

// Config captures the settings required to boot the collector.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Drift   DriftConfig   `yaml:"drift"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StoreConfig controls event persistence. An empty path keeps the store
// memory-only; ingested events are then lost on restart.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DriftConfig controls drift scoring policy and snapshot storage layout.
type DriftConfig struct {
	BaselinePath string           `yaml:"baselinePath"`
	HistoryDir   string           `yaml:"historyDir"`
	RemovalFloor int              `yaml:"removalFloor"`
	Weights      drift.Weights    `yaml:"weights"`
	Thresholds   drift.Thresholds `yaml:"thresholds"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ARCHSCOPE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Drift.Thresholds.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8088",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "",
		},
		Drift: DriftConfig{
			BaselinePath: "data/baseline.json",
			HistoryDir:   "data/history",
			Weights:      drift.DefaultWeights(),
			Thresholds:   drift.DefaultThresholds(),
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARCHSCOPE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ARCHSCOPE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ARCHSCOPE_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = d
		}
	}
	if v := os.Getenv("ARCHSCOPE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ARCHSCOPE_BASELINE_PATH"); v != "" {
		cfg.Drift.BaselinePath = v
	}
	if v := os.Getenv("ARCHSCOPE_HISTORY_DIR"); v != "" {
		cfg.Drift.HistoryDir = v
	}
	if v := os.Getenv("ARCHSCOPE_REMOVAL_FLOOR"); v != "" {
		if floor, err := strconv.Atoi(v); err == nil {
			cfg.Drift.RemovalFloor = floor
		}
	}
	if v := os.Getenv("ARCHSCOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARCHSCOPE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
