// Package collector is the dashboard-host runtime: the aggregate store,
// the ingestion server, the retention sweeper, and key management, behind
// one handle the dashboard shell calls into.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devsight/devsight/internal/config"
	"github.com/devsight/devsight/internal/keygen"
	"github.com/devsight/devsight/internal/server"
	"github.com/devsight/devsight/internal/store"
)

type Collector struct {
	logger *slog.Logger
	cfg    *config.CollectorConfig
	store  *store.Store
	server *server.Server

	mu       sync.Mutex
	apiKey   string
	settings store.Settings

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

type ServerStatus struct {
	Running      bool   `json:"running"`
	Port         int    `json:"port"`
	Addr         string `json:"addr,omitempty"`
	APIKey       string `json:"api_key"`
	DBPath       string `json:"db_path"`
	DBStatus     string `json:"db_status"`
	DBSizeBytes  int64  `json:"db_size_bytes"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
}

// Open opens the collector database, loads (or defaults) the persisted
// settings, and generates the shared API key on very first run.
func Open(ctx context.Context, logger *slog.Logger, cfg *config.CollectorConfig) (*Collector, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	settings, err := st.LoadSettings(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := st.SaveSettings(ctx, settings); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("persist settings: %w", err)
	}

	key, ok, err := st.APIKey(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load api key: %w", err)
	}
	if !ok {
		key, err = keygen.NewKey()
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("generate api key: %w", err)
		}
		if err := st.SetAPIKey(ctx, key); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("persist api key: %w", err)
		}
		logger.Info("generated shared API key")
	}

	c := &Collector{
		logger:   logger,
		cfg:      cfg,
		store:    st,
		apiKey:   key,
		settings: settings,
	}
	c.server = server.New(logger, st, c.currentKey)

	journal, busy, err := st.DB().Pragmas(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("query sqlite pragmas: %w", err)
	}
	logger.Info("collector store opened", "path", cfg.DBPath, "journal_mode", journal, "busy_timeout", busy)
	return c, nil
}

func (c *Collector) currentKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey
}

// StartServer binds the ingestion listener on the persisted port. A bind
// failure is the one error in this runtime that the caller must treat as
// fatal to the start request.
func (c *Collector) StartServer() error {
	c.mu.Lock()
	port := c.settings.ListenPort
	c.mu.Unlock()
	return c.server.Start(port)
}

func (c *Collector) StopServer(ctx context.Context) error {
	return c.server.Stop(ctx)
}

func (c *Collector) ServerStatus() ServerStatus {
	health := c.store.DB().Stats()
	c.mu.Lock()
	defer c.mu.Unlock()
	return ServerStatus{
		Running:      c.server.Running(),
		Port:         c.settings.ListenPort,
		Addr:         c.server.Addr(),
		APIKey:       c.apiKey,
		DBPath:       c.store.DB().Path(),
		DBStatus:     health.DBStatus,
		DBSizeBytes:  health.DBSizeBytes,
		WALSizeBytes: health.WALSize,
	}
}

// RotateKey mints and persists a fresh shared secret. The live server
// picks it up on the next request; agents keep failing with 401 until
// they are given the new key.
func (c *Collector) RotateKey(ctx context.Context) (string, error) {
	key, err := keygen.NewKey()
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	if err := c.store.SetAPIKey(ctx, key); err != nil {
		return "", fmt.Errorf("persist api key: %w", err)
	}
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
	c.logger.Info("rotated shared API key")
	return key, nil
}

// PurgeOlderThan deletes reports past the horizon. Negative days means
// "use the configured retention".
func (c *Collector) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		c.mu.Lock()
		days = c.settings.RetentionDays
		c.mu.Unlock()
	}
	return c.store.PurgeOlderThan(ctx, days)
}

func (c *Collector) Stats(ctx context.Context) (store.Stats, error) {
	return c.store.Stats(ctx, time.Now())
}

func (c *Collector) ListDevelopers(ctx context.Context) ([]store.Developer, error) {
	return c.store.ListDevelopers(ctx)
}

func (c *Collector) ListReports(ctx context.Context, limit int) ([]store.Report, error) {
	return c.store.ListReports(ctx, limit)
}

func (c *Collector) Settings() store.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings persists new settings. A changed listen port applies on
// the next StartServer.
func (c *Collector) UpdateSettings(ctx context.Context, settings store.Settings) error {
	if err := c.store.SaveSettings(ctx, settings); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	return nil
}

// StartBackground launches the retention sweep and WAL checkpoint loops.
func (c *Collector) StartBackground() {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.bgCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.bgCancel = cancel

	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				deleted, err := c.PurgeOlderThan(sweepCtx, -1)
				cancel()
				if err != nil {
					c.logger.Warn("retention sweep failed", "error", err)
				} else if deleted > 0 {
					c.logger.Info("retention sweep", "deleted", deleted)
				}
			}
		}
	}()

	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		ticker := time.NewTicker(c.cfg.WALCheckpointEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cpCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				_, err := c.store.DB().CheckpointIfWALExceeds(cpCtx, c.cfg.WALRestartThresholdB)
				cancel()
				if err != nil {
					c.logger.Warn("wal checkpoint failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the server and background loops, checkpoints, and closes
// the store.
func (c *Collector) Close(ctx context.Context) error {
	var joined error

	if err := c.server.Stop(ctx); err != nil {
		joined = errors.Join(joined, fmt.Errorf("server stop: %w", err))
	}

	c.bgMu.Lock()
	cancel := c.bgCancel
	c.bgCancel = nil
	c.bgMu.Unlock()
	if cancel != nil {
		cancel()
		c.bgWG.Wait()
	}

	cpCtx, cpCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := c.store.DB().Checkpoint(cpCtx); err != nil {
		joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
	}
	cpCancel()

	if err := c.store.Close(); err != nil {
		joined = errors.Join(joined, fmt.Errorf("store close: %w", err))
	}
	return joined
}
