// Package queue is the agent-side durable observation queue. Observations
// are appended locally, survive restarts, and carry a synced flag the sync
// client flips once the collector acknowledges delivery. Nothing in this
// package ever deletes a row.
package queue

import (
	"context"
	"fmt"

	"github.com/devsight/devsight/internal/db"
)

// PendingBatchLimit caps a single drain so one sync pass stays bounded in
// latency and memory.
const PendingBatchLimit = 50

const schemaDDL = `
CREATE TABLE IF NOT EXISTS config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  captured_at INTEGER NOT NULL,
  developer_id TEXT NOT NULL,
  description TEXT NOT NULL,
  activity_kind TEXT NOT NULL,
  synced INTEGER NOT NULL DEFAULT 0,
  delivered_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_observations_synced ON observations (synced, id);
CREATE INDEX IF NOT EXISTS idx_observations_captured ON observations (captured_at DESC);
`

type Observation struct {
	ID           int64
	CapturedAt   int64
	DeveloperID  string
	Description  string
	ActivityKind string
	Delivered    bool
}

type Queue struct {
	m *db.Manager
}

// Open opens (or creates) the agent database at path and applies the queue
// schema.
func Open(path string) (*Queue, error) {
	m, err := db.Open(path, schemaDDL)
	if err != nil {
		return nil, fmt.Errorf("open agent db: %w", err)
	}
	return &Queue{m: m}, nil
}

func (q *Queue) Close() error {
	return q.m.Close()
}

// DB exposes the underlying manager for config access and health stats.
func (q *Queue) DB() *db.Manager {
	return q.m
}

// Enqueue appends an observation and returns its assigned id. Ids are
// monotonically increasing and define delivery order.
func (q *Queue) Enqueue(ctx context.Context, obs Observation) (int64, error) {
	res, err := q.m.Writer().ExecContext(ctx, `
INSERT INTO observations (captured_at, developer_id, description, activity_kind, synced, delivered_at)
VALUES (?, ?, ?, ?, 0, NULL)
`, obs.CapturedAt, obs.DeveloperID, obs.Description, obs.ActivityKind)
	if err != nil {
		return 0, fmt.Errorf("enqueue observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue observation id: %w", err)
	}
	return id, nil
}

// ListPending returns undelivered observations in ascending id order, capped
// at limit (or PendingBatchLimit when limit <= 0).
func (q *Queue) ListPending(ctx context.Context, limit int) ([]Observation, error) {
	if limit <= 0 || limit > PendingBatchLimit {
		limit = PendingBatchLimit
	}
	rows, err := q.m.Reader().QueryContext(ctx, `
SELECT id, captured_at, developer_id, description, activity_kind
FROM observations
WHERE synced = 0
ORDER BY id ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	out := make([]Observation, 0, limit)
	for rows.Next() {
		var obs Observation
		if err := rows.Scan(&obs.ID, &obs.CapturedAt, &obs.DeveloperID, &obs.Description, &obs.ActivityKind); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// MarkDelivered flips the synced flag for one observation. Calling it again
// for the same id is a no-op.
func (q *Queue) MarkDelivered(ctx context.Context, id int64, deliveredAt int64) error {
	_, err := q.m.Writer().ExecContext(ctx,
		"UPDATE observations SET synced = 1, delivered_at = ? WHERE id = ? AND synced = 0",
		deliveredAt, id,
	)
	if err != nil {
		return fmt.Errorf("mark delivered %d: %w", id, err)
	}
	return nil
}

// ListRecent returns the newest observations first, delivered or not, for
// the local activity log view.
func (q *Queue) ListRecent(ctx context.Context, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.m.Reader().QueryContext(ctx, `
SELECT id, captured_at, developer_id, description, activity_kind, synced
FROM observations
ORDER BY id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()

	out := make([]Observation, 0, limit)
	for rows.Next() {
		var obs Observation
		var synced int
		if err := rows.Scan(&obs.ID, &obs.CapturedAt, &obs.DeveloperID, &obs.Description, &obs.ActivityKind, &synced); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		obs.Delivered = synced == 1
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	if err := q.m.Reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM observations WHERE synced = 0").Scan(&count); err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}
