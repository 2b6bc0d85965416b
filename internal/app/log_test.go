package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogHandler_Handle(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 15, 30, 0, time.UTC)

	tests := []struct {
		name    string
		runID   string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			runID:   "20260302T091500Z",
			level:   slog.LevelInfo,
			message: "engine started",
			want:    "2026-03-02T09:15:30Z\tINFO\t20260302T091500Z\tengine started\n",
		},
		{
			name:    "debug level",
			runID:   "r1",
			level:   slog.LevelDebug,
			message: "duplicate event suppressed",
			want:    "2026-03-02T09:15:30Z\tDEBUG\tr1\tduplicate event suppressed\n",
		},
		{
			name:    "with record attrs",
			runID:   "r2",
			level:   slog.LevelWarn,
			message: "queue full, advisory operation dropped",
			attrs:   []slog.Attr{slog.String("path", "/docs/file.txt"), slog.Int("depth", 256)},
			want:    "2026-03-02T09:15:30Z\tWARN\tr2\tqueue full, advisory operation dropped\tpath=/docs/file.txt\tdepth=256\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLogHandler(&buf, tt.runID, nil)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLogHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newLogHandler(&buf, "r1", nil)

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "engine")}).(*logHandler)

	r := slog.NewRecord(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "backup", 0)
	r.AddAttrs(slog.String("operation", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=engine") {
		t.Errorf("expected pre-set attr component=engine, got: %q", got)
	}
	if !strings.Contains(got, "operation=abc") {
		t.Errorf("expected record attr operation=abc, got: %q", got)
	}
	if len(h.attrs) != 0 {
		t.Errorf("original handler attrs modified: got %d, want 0", len(h.attrs))
	}
}

func TestLogHandler_Enabled(t *testing.T) {
	all := newLogHandler(nil, "", nil)
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if !all.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = false, want true", level)
		}
	}

	infoOnly := newLogHandler(nil, "", slog.LevelInfo)
	if infoOnly.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(DEBUG) = true with INFO threshold")
	}
	if !infoOnly.Enabled(context.Background(), slog.LevelError) {
		t.Error("Enabled(ERROR) = false with INFO threshold")
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-run", slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(filepath.Join(dir, "foldguard.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "\ttest-run\thello\tk=v") {
		t.Errorf("log file = %q, want the record", data)
	}
}
