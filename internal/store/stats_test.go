package store

import (
	"context"
	"testing"
	"time"
)

func TestStatsMatchDirectCounts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	inputs := []ReportInput{
		{DeveloperID: "dev-1", DeveloperName: "Ada", Description: "coding", ActivityType: "coding", ReceivedAt: now.UnixMilli()},
		{DeveloperID: "dev-1", DeveloperName: "Ada", Description: "more coding", ActivityType: "coding", ReceivedAt: now.UnixMilli()},
		{DeveloperID: "dev-2", DeveloperName: "Bob", Description: "meeting", ActivityType: "meeting", ReceivedAt: now.UnixMilli()},
	}
	for i, in := range inputs {
		if _, err := s.AddReport(ctx, in); err != nil {
			t.Fatalf("add report %d: %v", i, err)
		}
	}

	// One report from two days ago must not count as today.
	old := now.Add(-48 * time.Hour).UnixMilli()
	if _, err := s.AddReport(ctx, ReportInput{
		DeveloperID:   "dev-2",
		DeveloperName: "Bob",
		Description:   "old work",
		ActivityType:  "terminal",
		ReceivedAt:    old,
	}); err != nil {
		t.Fatalf("add old report: %v", err)
	}

	stats, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.TotalDevelopers != 2 {
		t.Fatalf("total developers = %d, want 2", stats.TotalDevelopers)
	}
	if stats.OnlineDevelopers != 2 {
		t.Fatalf("online developers = %d, want 2", stats.OnlineDevelopers)
	}
	if stats.TotalReports != 4 {
		t.Fatalf("total reports = %d, want 4", stats.TotalReports)
	}
	if stats.ReportsToday != 3 {
		t.Fatalf("reports today = %d, want 3", stats.ReportsToday)
	}
	if stats.ActivityBreakdown["coding"] != 2 || stats.ActivityBreakdown["meeting"] != 1 || stats.ActivityBreakdown["terminal"] != 1 {
		t.Fatalf("activity breakdown = %+v", stats.ActivityBreakdown)
	}

	devCount, err := s.DeveloperCount(ctx)
	if err != nil {
		t.Fatalf("developer count: %v", err)
	}
	repCount, err := s.ReportCount(ctx)
	if err != nil {
		t.Fatalf("report count: %v", err)
	}
	if stats.TotalDevelopers != devCount || stats.TotalReports != repCount {
		t.Fatalf("stats drifted from direct counts: %+v vs devs=%d reports=%d", stats, devCount, repCount)
	}
}

func TestStatsEmptyStore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	stats, err := s.Stats(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalDevelopers != 0 || stats.TotalReports != 0 || stats.ReportsToday != 0 {
		t.Fatalf("empty store stats = %+v", stats)
	}
	if len(stats.ActivityBreakdown) != 0 {
		t.Fatalf("empty breakdown = %+v", stats.ActivityBreakdown)
	}
}
