package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Both roles keep durable settings in a config key/value table. Values are
// plain strings; callers parse what they need.

func (m *Manager) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := m.reader.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read config %q: %w", key, err)
	}
	return value, true, nil
}

func (m *Manager) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := m.writer.ExecContext(ctx,
		"INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write config %q: %w", key, err)
	}
	return nil
}
