package vault

import (
	"fmt"

	"foldguard/internal/config"
	"foldguard/internal/guard"
)

// NewVaultFromConfig creates the Vault selected by cfg.Type.
func NewVaultFromConfig(cfg config.VaultConfig) (guard.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
