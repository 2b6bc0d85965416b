package testutil

import (
	"context"
	"testing"

	"foldguard/internal/database"
	"foldguard/internal/fs"
	"foldguard/internal/guard"
	"foldguard/internal/staging"
	"foldguard/internal/vault"
)

// HarnessOptions adjusts the stack NewHarness builds.
type HarnessOptions struct {
	// Engine replaces guard.DefaultEngineConfig when set.
	Engine    *guard.EngineConfig
	Retention guard.RetentionPolicy
	// Clock defaults to FixedClock. Scans compare against file mtimes and
	// need a real clock.
	Clock guard.Clock
	// Encrypt stores snapshots through the test encryptor.
	Encrypt bool
	// Disabled starts with the global toggle off.
	Disabled bool
	Ignore   []string
	// Vault replaces the memory vault behind the store and health checks.
	// Harness.Vault still holds the memory vault.
	Vault guard.Vault
}

// Harness is a complete core wired over in-memory storage and the real
// filesystem.
type Harness struct {
	Dir      string
	DB       *database.SQLiteDatabase
	Vault    *vault.MemoryVault
	Spool    *staging.Spool
	FS       *fs.OSFilesystem
	Clock    guard.Clock
	IDs      *StubIDGenerator
	Registry *guard.Registry
	Switch   *guard.Switch
	Store    *guard.BackupStore
	Activity *guard.ActivityLog
	Health   *guard.Health
	Engine   *guard.Engine
	Scanner  *guard.Scanner
	Service  *guard.Service
}

// NewHarness builds and starts the core. Dir is an empty directory tests can
// populate.
func NewHarness(t *testing.T, opts HarnessOptions) *Harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Harness{
		Dir:   TempDir(t),
		DB:    NewTestDatabase(t),
		Vault: NewTestVault(),
		Spool: NewTestSpool(),
		FS:    fs.NewOSFilesystem(opts.Ignore),
		Clock: opts.Clock,
		IDs:   NewStubIDGenerator(),
	}
	if h.Clock == nil {
		h.Clock = FixedClock()
	}
	logger := guard.NewNopLogger()
	var store guard.Vault = h.Vault
	if opts.Vault != nil {
		store = opts.Vault
	}

	var err error
	h.Registry, err = guard.NewRegistry(ctx, h.DB, h.FS, h.Clock, logger)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	h.Switch, err = guard.NewSwitch(ctx, h.DB, h.Clock, logger, !opts.Disabled)
	if err != nil {
		t.Fatalf("NewSwitch() error = %v", err)
	}

	storeOpts := guard.StoreOptions{
		DB:        h.DB,
		Vault:     store,
		Spool:     h.Spool,
		FS:        h.FS,
		Registry:  h.Registry,
		Retention: opts.Retention,
		Clock:     h.Clock,
		IDs:       h.IDs,
		Logger:    logger,
	}
	if opts.Encrypt {
		enc := NewTestEncryptor()
		dec, err := enc.Unlock("")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		storeOpts.Encryptor = enc
		storeOpts.Decryptor = dec
	}
	h.Store = guard.NewBackupStore(storeOpts)
	h.Activity = guard.NewActivityLog(h.DB, h.Clock, logger, guard.NopMetrics{})
	h.Health = guard.NewHealth(h.DB, store, h.Clock, logger)

	cfg := guard.DefaultEngineConfig()
	if opts.Engine != nil {
		cfg = *opts.Engine
	}
	h.Engine = guard.NewEngine(guard.EngineOptions{
		Config:   cfg,
		Registry: h.Registry,
		Switch:   h.Switch,
		Store:    h.Store,
		Activity: h.Activity,
		FS:       h.FS,
		Health:   h.Health,
		Clock:    h.Clock,
		IDs:      h.IDs,
		Logger:   logger,
	})
	h.Engine.Start(ctx)
	h.Scanner = guard.NewScanner(ctx, h.Registry, h.Store, h.FS, h.Clock, h.IDs, logger)

	h.Service = &guard.Service{
		Registry: h.Registry,
		Switch:   h.Switch,
		Engine:   h.Engine,
		Store:    h.Store,
		Activity: h.Activity,
		Scanner:  h.Scanner,
		Health:   h.Health,
		Clock:    h.Clock,
		Logger:   logger,
	}

	t.Cleanup(func() {
		cancel()
		h.Scanner.Wait()
		h.Engine.Stop()
	})
	return h
}

// Protect registers path or fails the test.
func (h *Harness) Protect(t *testing.T, path string, recursive bool) *guard.ProtectedPath {
	t.Helper()
	entry, err := h.Registry.Add(context.Background(), path, recursive)
	if err != nil {
		t.Fatalf("Registry.Add(%s) error = %v", path, err)
	}
	return entry
}
