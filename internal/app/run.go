package app

import "time"

// Run identifies one invocation of the binary. Its ID tags every log line
// written during the invocation.
type Run struct {
	ID        string
	Command   string
	StartedAt time.Time
}

// NewRun creates a Run for command starting at now.
func NewRun(command string, now time.Time) *Run {
	now = now.UTC()
	return &Run{
		ID:        now.Format("20060102T150405Z"),
		Command:   command,
		StartedAt: now,
	}
}

// Daemon reports whether the run hosts the long-lived daemon.
func (r *Run) Daemon() bool {
	return r.Command == "daemon"
}
