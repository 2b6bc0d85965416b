package staging

import (
	"fmt"

	"foldguard/internal/config"
)

// DefaultMaxSize caps the spool at 1GiB unless configured otherwise.
const DefaultMaxSize int64 = 1 << 30

// NewSpoolFromConfig creates the spool selected by cfg.SpoolType.
func NewSpoolFromConfig(cfg config.EngineConfig) (*Spool, error) {
	maxSize := cfg.SpoolMaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	switch cfg.SpoolType {
	case "memory":
		return NewMemorySpool(maxSize), nil
	case "filesystem", "":
		if cfg.SpoolDir == "" {
			return nil, fmt.Errorf("filesystem spool requires spool_dir to be set")
		}
		return NewFileSystemSpool(cfg.SpoolDir, maxSize)
	default:
		return nil, fmt.Errorf("unknown spool type: %s", cfg.SpoolType)
	}
}
