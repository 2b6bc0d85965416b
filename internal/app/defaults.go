package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the locations foldguard uses before a config file is read.
type Paths struct {
	ConfigFile string
	BaseDir    string
	PIDFile    string
}

// DefaultPaths resolves Paths from the environment.
//
// FOLDGUARD_CONFIG_PATH and FOLDGUARD_HOME override everything. Otherwise the
// config lives under $XDG_CONFIG_HOME (default ~/.config) and data under
// $XDG_DATA_HOME (default ~/.local/share).
func DefaultPaths() (Paths, error) {
	var p Paths

	configFile, err := xdgPath("FOLDGUARD_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "foldguard.toml")
	if err != nil {
		return p, err
	}
	baseDir, err := xdgPath("FOLDGUARD_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "foldguard")
	if err != nil {
		return p, err
	}

	p.ConfigFile = configFile
	p.BaseDir = baseDir
	p.PIDFile = filepath.Join(baseDir, "foldguard.pid")
	return p, nil
}

func xdgPath(override, xdgVar, homeRel, name string) (string, error) {
	if v := os.Getenv(override); v != "" {
		return v, nil
	}
	if v := os.Getenv(xdgVar); filepath.IsAbs(v) {
		return filepath.Join(v, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, homeRel, name), nil
}
