// Package agent is the developer-machine runtime: the durable queue, the
// sync client, and the persisted credentials, behind one handle the
// capture pipeline and GUI shell call into.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/devsight/devsight/internal/activity"
	"github.com/devsight/devsight/internal/config"
	"github.com/devsight/devsight/internal/identity"
	"github.com/devsight/devsight/internal/keygen"
	"github.com/devsight/devsight/internal/queue"
	"github.com/devsight/devsight/internal/syncer"
)

const (
	keyAPIKey        = "api_key"
	keyDeveloperID   = "developer_id"
	keyDeveloperName = "developer_name"
	keyDeviceID      = "device_id"
	keyCollectorURL  = "collector_url"
)

type Agent struct {
	logger *slog.Logger
	cfg    *config.AgentConfig
	queue  *queue.Queue
	sync   *syncer.Client

	monitoring   atomic.Bool
	reportsSent  atomic.Int64
	lastActivity atomic.Value // string

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

type Status struct {
	Monitoring    bool   `json:"monitoring"`
	ReportsSent   int64  `json:"reports_sent"`
	PendingCount  int64  `json:"pending_count"`
	LastActivity  string `json:"last_activity"`
	DeveloperID   string `json:"developer_id"`
	DeveloperName string `json:"developer_name"`
	DeviceID      string `json:"device_id"`
	CollectorURL  string `json:"collector_url"`
	DBPath        string `json:"db_path"`
	DBStatus      string `json:"db_status"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
}

// Open opens the agent database and seeds identity on first run: a minted
// developer id, the device fingerprint, and the account display name. Env
// seeds for the collector URL and API key apply only when nothing is
// persisted yet.
func Open(ctx context.Context, logger *slog.Logger, cfg *config.AgentConfig) (*Agent, error) {
	q, err := queue.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	a := &Agent{
		logger: logger,
		cfg:    cfg,
		queue:  q,
	}
	a.lastActivity.Store("")
	a.sync = syncer.New(logger, q, a.Credentials)

	if err := a.seedIdentity(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}

	journal, busy, err := q.DB().Pragmas(ctx)
	if err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("query sqlite pragmas: %w", err)
	}
	logger.Info("agent store opened", "path", cfg.DBPath, "journal_mode", journal, "busy_timeout", busy)
	return a, nil
}

func (a *Agent) seedIdentity(ctx context.Context) error {
	seeds := []struct {
		key   string
		value func() string
	}{
		{keyDeveloperID, uuid.NewString},
		{keyDeviceID, identity.DeviceFingerprint},
		{keyDeveloperName, identity.DisplayName},
		{keyCollectorURL, func() string { return a.cfg.CollectorURL }},
		{keyAPIKey, func() string { return a.cfg.APIKey }},
	}
	for _, seed := range seeds {
		_, ok, err := a.queue.DB().GetConfigValue(ctx, seed.key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if v := seed.value(); v != "" {
			if err := a.queue.DB().SetConfigValue(ctx, seed.key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Credentials reads the current push credentials from durable config.
func (a *Agent) Credentials(ctx context.Context) (syncer.Credentials, error) {
	var creds syncer.Credentials
	fields := []struct {
		key string
		dst *string
	}{
		{keyCollectorURL, &creds.CollectorURL},
		{keyAPIKey, &creds.APIKey},
		{keyDeveloperID, &creds.DeveloperID},
		{keyDeveloperName, &creds.DeveloperName},
		{keyDeviceID, &creds.DeviceID},
	}
	for _, f := range fields {
		v, _, err := a.queue.DB().GetConfigValue(ctx, f.key)
		if err != nil {
			return syncer.Credentials{}, err
		}
		*f.dst = v
	}
	return creds, nil
}

// SetCredentials persists the collector URL and API key, typically pasted
// in from the collector's status screen. An odd-looking key is accepted but
// logged, since a truncated paste only shows up later as 401s.
func (a *Agent) SetCredentials(ctx context.Context, collectorURL, apiKey string) error {
	if apiKey != "" && !keygen.Looks(apiKey) {
		a.logger.Warn("api key does not look like a generated key", "key_length", len(apiKey))
	}
	if err := a.queue.DB().SetConfigValue(ctx, keyCollectorURL, collectorURL); err != nil {
		return err
	}
	return a.queue.DB().SetConfigValue(ctx, keyAPIKey, apiKey)
}

// SetDeveloperName updates the persisted display name sent with pushes.
func (a *Agent) SetDeveloperName(ctx context.Context, name string) error {
	return a.queue.DB().SetConfigValue(ctx, keyDeveloperName, name)
}

// Record appends one observation to the durable queue and returns its id.
// An empty kind is classified from the description; an unknown kind
// degrades to "other". The enqueue either lands durably or the error goes
// back to the capture caller; there is no silent drop.
func (a *Agent) Record(ctx context.Context, description, kind string) (int64, error) {
	if description == "" {
		return 0, errors.New("empty description")
	}
	if kind == "" {
		kind = activity.Detect(description)
	} else if !activity.Known(kind) {
		kind = activity.KindOther
	}

	devID, _, err := a.queue.DB().GetConfigValue(ctx, keyDeveloperID)
	if err != nil {
		return 0, err
	}

	id, err := a.queue.Enqueue(ctx, queue.Observation{
		CapturedAt:   time.Now().UnixMilli(),
		DeveloperID:  devID,
		Description:  description,
		ActivityKind: kind,
	})
	if err != nil {
		return 0, err
	}
	a.lastActivity.Store(description)
	return id, nil
}

// SyncOnce pushes pending observations to the collector. Failures leave
// observations pending for the next pass; only a missing configuration is
// surfaced as an error distinct from the tally.
func (a *Agent) SyncOnce(ctx context.Context) (syncer.Result, error) {
	res, err := a.sync.SyncOnce(ctx)
	if err != nil {
		return res, err
	}
	a.reportsSent.Add(int64(res.Delivered))
	return res, nil
}

func (a *Agent) ListRecent(ctx context.Context, limit int) ([]queue.Observation, error) {
	return a.queue.ListRecent(ctx, limit)
}

func (a *Agent) Status(ctx context.Context) Status {
	pending, err := a.queue.PendingCount(ctx)
	if err != nil {
		pending = 0
	}
	creds, err := a.Credentials(ctx)
	if err != nil {
		creds = syncer.Credentials{}
	}
	last, _ := a.lastActivity.Load().(string)
	health := a.queue.DB().Stats()
	return Status{
		Monitoring:    a.monitoring.Load(),
		ReportsSent:   a.reportsSent.Load(),
		PendingCount:  pending,
		LastActivity:  last,
		DeveloperID:   creds.DeveloperID,
		DeveloperName: creds.DeveloperName,
		DeviceID:      creds.DeviceID,
		CollectorURL:  creds.CollectorURL,
		DBPath:        a.queue.DB().Path(),
		DBStatus:      health.DBStatus,
		DBSizeBytes:   health.DBSizeBytes,
		WALSizeBytes:  health.WALSize,
	}
}

// StartSync begins the periodic sync loop. A "not configured" pass is
// quiet at debug level; everything else already logs inside the client.
func (a *Agent) StartSync() {
	a.bgMu.Lock()
	defer a.bgMu.Unlock()
	if a.bgCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel
	a.monitoring.Store(true)

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		ticker := time.NewTicker(a.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				syncCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				_, err := a.SyncOnce(syncCtx)
				cancel()
				if errors.Is(err, syncer.ErrNotConfigured) {
					a.logger.Debug("sync skipped", "reason", "not configured")
				} else if err != nil {
					a.logger.Warn("sync pass failed", "error", err)
				}
			}
		}
	}()
}

// StopSync halts the periodic loop. Pending observations stay queued.
func (a *Agent) StopSync() {
	a.bgMu.Lock()
	cancel := a.bgCancel
	a.bgCancel = nil
	a.bgMu.Unlock()

	if cancel != nil {
		cancel()
		a.bgWG.Wait()
	}
	a.monitoring.Store(false)
}

// Close stops background work and closes the queue.
func (a *Agent) Close() error {
	a.StopSync()
	return a.queue.Close()
}
