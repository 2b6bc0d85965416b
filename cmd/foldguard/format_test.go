package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"foldguard/internal/guard"
)

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "never"},
		{"seconds", now.Add(-20 * time.Second), "just now"},
		{"future", now.Add(time.Minute), "just now"},
		{"one minute", now.Add(-time.Minute), "1 minute ago"},
		{"minutes", now.Add(-2 * time.Minute), "2 minutes ago"},
		{"hours", now.Add(-5 * time.Hour), "5 hours ago"},
		{"one day", now.Add(-30 * time.Hour), "1 day ago"},
		{"days", now.Add(-3 * 24 * time.Hour), "3 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relativeTime(tt.t, now); got != tt.want {
				t.Errorf("relativeTime() = %q, want %q", got, tt.want)
			}
		})
	}

	old := now.Add(-30 * 24 * time.Hour)
	if got := relativeTime(old, now); got != old.Local().Format("2006-01-02") {
		t.Errorf("relativeTime() = %q, want a date", got)
	}
}

func TestPrintStatus(t *testing.T) {
	color.NoColor = true
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	var buf bytes.Buffer
	printStatus(&buf, &guard.Status{
		Enabled:              true,
		ToggledAt:            now.Add(-2 * time.Minute),
		ProtectedFolderCount: 3,
		BackupCount:          12,
		BlockedToday:         1,
		Healthy:              false,
		Mode:                 "degraded",
		DegradedReason:       "vault unreachable",
		DroppedEvents:        4,
		RecentActivity: []guard.ActivityRecord{{
			OperationID: "op-1",
			Kind:        guard.KindDelete,
			Path:        "/home/u/docs/a.txt",
			Resolution:  guard.ResolutionBlockedAndBackedUp,
			Timestamp:   now.Add(-time.Hour),
		}},
	}, now)

	out := buf.String()
	for _, want := range []string{
		"degraded (vault unreachable)",
		"2 minutes ago",
		"Protected:   3",
		"4 dropped",
		"blocked_backed_up",
		"/home/u/docs/a.txt",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("printStatus() output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDecision_SuggestsConfirm(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printDecision(&buf, &guard.Decision{
		OperationID: "op-9",
		Resolution:  guard.ResolutionBlockedAndBackedUp,
		SnapshotIDs: []string{"snap-1"},
	})
	if !strings.Contains(buf.String(), "foldguard confirm op-9") {
		t.Errorf("printDecision() output = %q, want confirm hint", buf.String())
	}
}
