package store

import (
	"context"
	"fmt"
	"time"
)

// Stats is a point-in-time aggregate over the developer and report tables.
// Every call recomputes from storage; there is no incremental maintenance
// to drift.
type Stats struct {
	TotalDevelopers   int64            `json:"total_developers"`
	OnlineDevelopers  int64            `json:"online_developers"`
	TotalReports      int64            `json:"total_reports"`
	ReportsToday      int64            `json:"reports_today"`
	ActivityBreakdown map[string]int64 `json:"activity_breakdown"`
}

// Stats computes the dashboard counters. "Today" is the collector's local
// calendar day containing now.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	out := Stats{ActivityBreakdown: make(map[string]int64)}

	if err := s.m.Reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM developers").Scan(&out.TotalDevelopers); err != nil {
		return Stats{}, fmt.Errorf("total developers: %w", err)
	}
	if err := s.m.Reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM developers WHERE is_online = 1").Scan(&out.OnlineDevelopers); err != nil {
		return Stats{}, fmt.Errorf("online developers: %w", err)
	}
	if err := s.m.Reader().QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&out.TotalReports); err != nil {
		return Stats{}, fmt.Errorf("total reports: %w", err)
	}

	local := now.Local()
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	if err := s.m.Reader().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reports WHERE received_at >= ?", dayStart.UnixMilli(),
	).Scan(&out.ReportsToday); err != nil {
		return Stats{}, fmt.Errorf("reports today: %w", err)
	}

	rows, err := s.m.Reader().QueryContext(ctx, "SELECT activity_type, COUNT(*) FROM reports GROUP BY activity_type")
	if err != nil {
		return Stats{}, fmt.Errorf("activity breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return Stats{}, fmt.Errorf("scan breakdown: %w", err)
		}
		out.ActivityBreakdown[kind] = count
	}
	return out, rows.Err()
}
