package store

import (
	"context"
	"fmt"
	"time"
)

// PurgeOlderThan deletes reports received before now minus days. It is
// idempotent: a second call with nothing left eligible reports zero.
// Developer rows are kept; their reports reading as deleted is the whole
// point of the retention horizon.
func (s *Store) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	res, err := s.m.Writer().ExecContext(ctx, "DELETE FROM reports WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge reports: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return deleted, nil
}
