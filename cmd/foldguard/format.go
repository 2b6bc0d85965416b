package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"foldguard/internal/guard"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// relativeTime renders t against now as "just now", "3 minutes ago" and so
// on. Anything older than a week is shown as a date.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 7*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
	return t.Local().Format("2006-01-02")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func resolutionLabel(r guard.Resolution) string {
	switch r {
	case guard.ResolutionBlockedAndBackedUp, guard.ResolutionRestoredAutomatically,
		guard.ResolutionRestoredManually:
		return green(string(r))
	case guard.ResolutionBlockedNoBackup, guard.ResolutionRestoreFailed:
		return red(string(r))
	case guard.ResolutionAllowedNoPriorBackup, guard.ResolutionConfirmedDelete:
		return yellow(string(r))
	}
	return string(r)
}

func printStatus(w io.Writer, st *guard.Status, now time.Time) {
	state := green("active")
	switch st.Mode {
	case "degraded":
		state = red("degraded")
	case "paused":
		state = yellow("paused")
	}
	fmt.Fprintf(w, "Protection:  %s", state)
	if st.DegradedReason != "" {
		fmt.Fprintf(w, " (%s)", st.DegradedReason)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Toggled:     %s\n", relativeTime(st.ToggledAt, now))
	fmt.Fprintf(w, "Protected:   %d\n", st.ProtectedFolderCount)
	fmt.Fprintf(w, "Snapshots:   %d\n", st.BackupCount)
	fmt.Fprintf(w, "Blocked:     %d today\n", st.BlockedToday)
	fmt.Fprintf(w, "Queue:       %d", st.QueueDepth)
	if st.DroppedEvents > 0 {
		fmt.Fprintf(w, " (%s)", red(fmt.Sprintf("%d dropped", st.DroppedEvents)))
	}
	fmt.Fprintln(w)

	if len(st.RecentActivity) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent activity:")
	for _, r := range st.RecentActivity {
		printActivity(w, r, now)
	}
}

func printActivity(w io.Writer, r guard.ActivityRecord, now time.Time) {
	target := r.Path
	if r.DestPath != "" {
		target += " -> " + r.DestPath
	}
	fmt.Fprintf(w, "  %-14s %-9s %s  %s", faint(relativeTime(r.Timestamp, now)), r.Kind, resolutionLabel(r.Resolution), target)
	if r.Detail != "" {
		fmt.Fprintf(w, " %s", faint("("+r.Detail+")"))
	}
	fmt.Fprintf(w, "  %s\n", faint(r.OperationID))
}

func printDecision(w io.Writer, d *guard.Decision) {
	fmt.Fprintf(w, "%s  %s\n", resolutionLabel(d.Resolution), d.OperationID)
	if d.Detail != "" {
		fmt.Fprintf(w, "  %s\n", d.Detail)
	}
	for _, id := range d.SnapshotIDs {
		fmt.Fprintf(w, "  snapshot %s\n", id)
	}
	if d.Resolution == guard.ResolutionBlockedAndBackedUp {
		fmt.Fprintf(w, "Run 'foldguard confirm %s' to go ahead.\n", d.OperationID)
	}
}

func printScanJob(w io.Writer, job *guard.ScanJob) {
	fmt.Fprintf(w, "Scan %s: %s\n", job.ID, job.State)
	fmt.Fprintf(w, "  files seen:        %d\n", job.FilesSeen)
	fmt.Fprintf(w, "  snapshots created: %d\n", job.SnapshotsCreated)
	fmt.Fprintf(w, "  skipped:           %d\n", job.Skipped)
	for _, e := range job.Errors {
		fmt.Fprintf(w, "  %s %s\n", red("error:"), e)
	}
}
