// Package config loads process-level settings from the environment.
// Durable settings (credentials, API key, ports) live in each role's
// SQLite config table; the environment only decides where that file is,
// how chatty the logs are, and how often background loops fire.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type AgentConfig struct {
	DBPath       string        `env:"DS_AGENT_DB_PATH"`
	LogLevel     string        `env:"DS_LOG_LEVEL,default=info"`
	SyncInterval time.Duration `env:"DS_SYNC_INTERVAL,default=30s"`

	// Seed values written to the durable config table on first run only.
	CollectorURL string `env:"DS_COLLECTOR_URL"`
	APIKey       string `env:"DS_API_KEY"`
}

type CollectorConfig struct {
	DBPath               string        `env:"DS_COLLECTOR_DB_PATH"`
	LogLevel             string        `env:"DS_LOG_LEVEL,default=info"`
	SweepInterval        time.Duration `env:"DS_SWEEP_INTERVAL,default=1h"`
	WALCheckpointEvery   time.Duration `env:"DS_WAL_CHECKPOINT_INTERVAL,default=10m"`
	WALRestartThresholdB int64         `env:"DS_WAL_RESTART_THRESHOLD_BYTES,default=52428800"`
}

func LoadAgent(ctx context.Context) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(DataDir(), "agent.db")
	}
	return &cfg, nil
}

func LoadCollector(ctx context.Context) (*CollectorConfig, error) {
	var cfg CollectorConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(DataDir(), "collector.db")
	}
	return &cfg, nil
}

// DataDir is the per-application local data directory, created lazily by
// db.Open on first use.
func DataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "DevSight")
}
