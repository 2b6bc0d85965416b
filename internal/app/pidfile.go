package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile records the current process in path. It fails when another
// live daemon already owns the file; a stale file is replaced.
func WritePIDFile(path string) error {
	running, pid, err := DaemonRunning(path)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("daemon already running with PID %d (PID file: %s)", pid, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating PID file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes path if present.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing PID file: %w", err)
	}
	return nil
}

// DaemonRunning reads path and checks whether the recorded process is
// alive. A file with a dead or unparsable PID counts as not running.
func DaemonRunning(path string) (bool, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0, nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	// Signal 0 checks for existence without delivering anything.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, pid, nil
	}
	return true, pid, nil
}
