package testutil

import (
	"foldguard/internal/staging"
	"foldguard/internal/vault"
)

// DefaultSpoolMaxSize caps test spools at 10MB.
const DefaultSpoolMaxSize = 10 * 1024 * 1024

// NewTestVault creates an in-memory vault.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}

// NewTestSpool creates an in-memory spool with the default cap.
func NewTestSpool() *staging.Spool {
	return staging.NewMemorySpool(DefaultSpoolMaxSize)
}
