package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"foldguard/internal/api"
	"foldguard/internal/config"
	"foldguard/internal/database"
	"foldguard/internal/encryption"
	"foldguard/internal/fs"
	"foldguard/internal/guard"
	"foldguard/internal/metrics"
	"foldguard/internal/staging"
	"foldguard/internal/vault"
	"foldguard/internal/watch"
)

// manifestName is the vault metadata blob holding the exported database.
const manifestName = "foldguard.db"

// FoldguardApp is the application layer between the CLI and the core.
// It constructs all dependencies from config, runs the daemon and manages
// the storage lifecycle on Close.
type FoldguardApp struct {
	cfg       *config.Config
	run       *Run
	db        *database.SQLiteDatabase
	vault     guard.Vault
	spool     *staging.Spool
	fsys      *fs.OSFilesystem
	encryptor guard.Encryptor
	metrics   *metrics.Prometheus
	logger    guard.Logger
	logFile   *os.File

	ctx    context.Context
	cancel context.CancelFunc

	service     *guard.Service
	interceptor *watch.Interceptor
	source      *watch.Source
	server      *api.Server

	closeOnce sync.Once
	closeErr  error
}

// NewFoldguardApp creates a fully wired FoldguardApp from cfg. command names
// the CLI command being run. The caller must call Close when done.
func NewFoldguardApp(cfg *config.Config, command string) (*FoldguardApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	run := NewRun(command, time.Now())
	logger, logFile, err := openLogger(cfg.LogDir, run.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &FoldguardApp{cfg: cfg, run: run, logger: log, logFile: logFile}
	if err := a.build(); err != nil {
		a.cleanupPartial()
		return nil, err
	}
	return a, nil
}

func openLogger(logDir, runID string) (*slog.Logger, *os.File, error) {
	if logDir == "" {
		return slog.New(newLogHandler(os.Stderr, runID, slog.LevelInfo)), nil, nil
	}
	return newLogger(logDir, runID, slog.LevelInfo)
}

func (a *FoldguardApp) build() error {
	cfg := a.cfg
	a.fsys = fs.NewOSFilesystem(cfg.Filesystem.Ignore)

	v, err := vault.NewVaultFromConfig(cfg.Vault)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	a.vault = v

	a.spool, err = staging.NewSpoolFromConfig(cfg.Engine)
	if err != nil {
		return fmt.Errorf("creating spool: %w", err)
	}

	a.db, err = database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if err := a.db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	decryptor, err := encryption.UnlockFromEnv(a.encryptor, cfg.Encryption)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	if a.encryptor != nil && decryptor == nil {
		a.logger.Warn("private key locked, encrypted snapshots cannot be restored", "env", cfg.Encryption.PassphraseEnv)
	}

	a.metrics = metrics.New()
	a.ctx, a.cancel = context.WithCancel(context.Background())
	clock := guard.RealClock{}
	ids := guard.UUIDGenerator{}

	registry, err := guard.NewRegistry(a.ctx, a.db, a.fsys, clock, a.logger)
	if err != nil {
		return fmt.Errorf("loading protected paths: %w", err)
	}
	toggle, err := guard.NewSwitch(a.ctx, a.db, clock, a.logger, cfg.Protection.Enabled)
	if err != nil {
		return fmt.Errorf("loading protection state: %w", err)
	}

	store := guard.NewBackupStore(guard.StoreOptions{
		DB:        a.db,
		Vault:     a.vault,
		Spool:     a.spool,
		FS:        a.fsys,
		Registry:  registry,
		Encryptor: a.encryptor,
		Decryptor: decryptor,
		Retention: guard.RetentionPolicy{
			MaxSnapshotsPerPath: cfg.Retention.MaxSnapshotsPerPath,
			MaxAge:              cfg.Retention.MaxAge.Duration,
		},
		Clock:   clock,
		IDs:     ids,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	activity := guard.NewActivityLog(a.db, clock, a.logger, a.metrics)
	health := guard.NewHealth(a.db, a.vault, clock, a.logger)

	engine := guard.NewEngine(guard.EngineOptions{
		Config: guard.EngineConfig{
			Workers:              cfg.Engine.Workers,
			QueueCapacity:        cfg.Engine.QueueCapacity,
			DedupWindow:          cfg.Engine.DedupWindow.Duration,
			FailClosed:           cfg.Protection.FailClosed,
			AllowConfirmedDelete: cfg.Protection.AllowConfirmedDelete,
			DefaultMode:          guard.InterceptionMode(cfg.Protection.DefaultMode),
		},
		Registry: registry,
		Switch:   toggle,
		Store:    store,
		Activity: activity,
		FS:       a.fsys,
		Health:   health,
		Clock:    clock,
		IDs:      ids,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})

	a.service = &guard.Service{
		Registry:      registry,
		Switch:        toggle,
		Engine:        engine,
		Store:         store,
		Activity:      activity,
		Scanner:       guard.NewScanner(a.ctx, registry, store, a.fsys, clock, ids, a.logger),
		Health:        health,
		Clock:         clock,
		Logger:        a.logger,
		ScanOnProtect: cfg.Protection.ScanOnProtect,
	}

	a.interceptor = watch.NewInterceptor(a.service, a.fsys, a.logger)
	if cfg.Protection.Watch {
		a.source = watch.NewSource(watch.Options{
			Sink:   engine,
			Scopes: registry,
			Ignore: a.fsys,
			Clock:  clock,
			Logger: a.logger,
		})
	}
	a.server = api.NewServer(a.service, a.interceptor, a.metrics.Handler(), a.logger)
	if a.source != nil {
		a.server.OnRegistryChange = a.source.Sync
	}

	a.checkManifestVersion()
	return nil
}

// checkManifestVersion warns when the vault holds a newer manifest export
// than the local database, which means the database was replaced.
func (a *FoldguardApp) checkManifestVersion() {
	remote, err := a.vault.GetMetadataVersion(manifestName)
	if err != nil {
		a.logger.Warn("cannot read exported manifest version", "error", err)
		return
	}
	local, err := a.latestSeq(a.ctx)
	if err != nil {
		a.logger.Warn("cannot read local activity sequence", "error", err)
		return
	}
	if remote > local {
		a.logger.Warn("local database is behind the exported manifest", "local", local, "exported", remote)
	}
}

func (a *FoldguardApp) latestSeq(ctx context.Context) (int64, error) {
	recent, err := a.service.Activity.Recent(ctx, 1)
	if err != nil || len(recent) == 0 {
		return 0, err
	}
	return recent[0].Seq, nil
}

// Service returns the core command surface.
func (a *FoldguardApp) Service() *guard.Service { return a.service }

// Interceptor returns the Preventable hook.
func (a *FoldguardApp) Interceptor() *watch.Interceptor { return a.interceptor }

// Handler returns the Control API without binding a socket.
func (a *FoldguardApp) Handler() http.Handler { return a.server.Handler() }

// Encryptor returns the configured encryptor, or nil.
func (a *FoldguardApp) Encryptor() guard.Encryptor { return a.encryptor }

// Start brings the engine and the event source up and checks storage.
func (a *FoldguardApp) Start() error {
	a.service.Engine.Start(a.ctx)
	if err := a.service.Health.Check(a.ctx); err != nil {
		a.logger.Warn("starting degraded", "error", err)
	}
	if a.source != nil {
		if err := a.source.Start(a.ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
	}
	go a.maintain(a.ctx)
	a.logger.Info("daemon started", "run", a.run.ID, "protected", len(a.service.ProtectedPaths()))
	return nil
}

// maintain runs the retention sweep and the storage probe until ctx ends.
func (a *FoldguardApp) maintain(ctx context.Context) {
	sweepEvery := a.cfg.Retention.SweepInterval.Duration
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	probeEvery := a.cfg.Engine.ProbeInterval.Duration
	if probeEvery <= 0 {
		probeEvery = 30 * time.Second
	}
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()
	probe := time.NewTicker(probeEvery)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n, err := a.service.Store.Sweep(ctx); err != nil {
				a.logger.Error("retention sweep failed", "evicted", n, "error", err)
			} else if n > 0 {
				a.logger.Info("retention sweep", "evicted", n)
			}
		case <-probe.C:
			_ = a.service.Health.Check(ctx)
		}
	}
}

// Serve starts the daemon and serves the Control API on ln until ctx ends.
func (a *FoldguardApp) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.Start(); err != nil {
		return err
	}
	return a.server.ServeListener(ctx, ln)
}

// RunDaemon runs the daemon in the foreground until SIGINT or SIGTERM. The
// PID file is written first and removed on exit.
func (a *FoldguardApp) RunDaemon(pidFile string) error {
	if pidFile != "" {
		if err := WritePIDFile(pidFile); err != nil {
			return err
		}
		defer func() {
			if err := RemovePIDFile(pidFile); err != nil {
				a.logger.Warn("PID file not removed", "path", pidFile, "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Listen, err)
	}
	err = a.Serve(ctx, ln)
	a.logger.Info("shutting down")
	return err
}

// Close stops the daemon, exports the manifest to the vault and closes all
// resources.
func (a *FoldguardApp) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close()
	})
	return a.closeErr
}

func (a *FoldguardApp) close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.source != nil {
		keep(a.source.Close())
	}
	a.cancel()
	a.service.Scanner.Wait()
	a.service.Engine.Stop()

	version, err := a.latestSeq(context.Background())
	keep(err)
	if err == nil && version > 0 {
		keep(a.exportManifest(version))
	}

	if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// exportManifest snapshots the database and stores it in the vault with
// version set to the newest activity sequence.
func (a *FoldguardApp) exportManifest(version int64) error {
	tmpFile, err := os.CreateTemp("", "foldguard-manifest-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for manifest export: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := a.db.BackupTo(tmpPath); err != nil {
		return err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening manifest export: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat manifest export: %w", err)
	}
	if err := a.vault.PutMetadata(manifestName, f, info.Size(), version); err != nil {
		return fmt.Errorf("storing manifest in vault: %w", err)
	}
	return nil
}

func (a *FoldguardApp) cleanupPartial() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
