// Package store is the collector-side aggregate store: known developers,
// accepted reports, and the collector's durable settings, all in one
// SQLite file written through a single-connection writer pool.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devsight/devsight/internal/db"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS developers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  device_id TEXT UNIQUE,
  is_online INTEGER NOT NULL DEFAULT 1,
  last_seen_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reports (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  developer_id TEXT NOT NULL,
  description TEXT NOT NULL,
  activity_type TEXT NOT NULL,
  received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_dev ON reports (developer_id);
CREATE INDEX IF NOT EXISTS idx_reports_received ON reports (received_at DESC);
`

type Developer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeviceID   string `json:"device_id"`
	Online     bool   `json:"is_online"`
	LastSeenAt int64  `json:"last_seen_at"`
}

type Report struct {
	ID            int64  `json:"id"`
	DeveloperID   string `json:"developer_id"`
	DeveloperName string `json:"developer_name"`
	Description   string `json:"description"`
	ActivityType  string `json:"activity_type"`
	ReceivedAt    int64  `json:"received_at"`
}

// ReportInput is one pushed observation as the ingestion server received
// it. Identity resolves developer id first, then device fingerprint, then
// the literal "unknown".
type ReportInput struct {
	DeveloperID   string
	DeveloperName string
	DeviceID      string
	Description   string
	ActivityType  string
	ReceivedAt    int64
}

type Store struct {
	m *db.Manager
}

func Open(path string) (*Store, error) {
	m, err := db.Open(path, schemaDDL)
	if err != nil {
		return nil, fmt.Errorf("open collector db: %w", err)
	}
	return &Store{m: m}, nil
}

func (s *Store) Close() error {
	return s.m.Close()
}

func (s *Store) DB() *db.Manager {
	return s.m
}

// AddReport upserts the developer row and inserts the report in one
// transaction, so the developer exists no later than any report that
// references it. The upsert is a single statement; two concurrently handled
// requests for the same developer cannot lose each other's update.
func (s *Store) AddReport(ctx context.Context, in ReportInput) (int64, error) {
	devID := in.DeveloperID
	if devID == "" {
		devID = in.DeviceID
	}
	if devID == "" {
		devID = "unknown"
	}
	devName := in.DeveloperName
	if devName == "" {
		devName = "Unknown"
	}

	tx, err := s.m.Writer().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var deviceID any
	if in.DeviceID != "" {
		deviceID = in.DeviceID
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO developers (id, name, device_id, is_online, last_seen_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name, is_online = 1, last_seen_at = excluded.last_seen_at
ON CONFLICT(device_id) DO UPDATE SET
  name = excluded.name, is_online = 1, last_seen_at = excluded.last_seen_at
`, devID, devName, deviceID, in.ReceivedAt); err != nil {
		return 0, fmt.Errorf("upsert developer: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO reports (developer_id, description, activity_type, received_at)
VALUES (?, ?, ?, ?)
`, devID, in.Description, in.ActivityType, in.ReceivedAt)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("report id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit report: %w", err)
	}
	return id, nil
}

// ListDevelopers returns every known developer, most recently seen first.
func (s *Store) ListDevelopers(ctx context.Context) ([]Developer, error) {
	rows, err := s.m.Reader().QueryContext(ctx, `
SELECT id, name, COALESCE(device_id, ''), is_online, last_seen_at
FROM developers
ORDER BY last_seen_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list developers: %w", err)
	}
	defer rows.Close()

	out := make([]Developer, 0)
	for rows.Next() {
		var d Developer
		var online int
		if err := rows.Scan(&d.ID, &d.Name, &d.DeviceID, &online, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan developer: %w", err)
		}
		d.Online = online == 1
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListReports returns the newest reports first, joined with the owning
// developer's display name. A dangling developer reference reads as
// "Unknown" rather than dropping the row.
func (s *Store) ListReports(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.m.Reader().QueryContext(ctx, `
SELECT r.id, r.developer_id, COALESCE(d.name, 'Unknown'), r.description, r.activity_type, r.received_at
FROM reports r
LEFT JOIN developers d ON r.developer_id = d.id
ORDER BY r.id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := make([]Report, 0, limit)
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.DeveloperID, &r.DeveloperName, &r.Description, &r.ActivityType, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReportCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.m.Reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count); err != nil {
		return 0, fmt.Errorf("report count: %w", err)
	}
	return count, nil
}

func (s *Store) DeveloperCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.m.Reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM developers").Scan(&count); err != nil {
		return 0, fmt.Errorf("developer count: %w", err)
	}
	return count, nil
}
