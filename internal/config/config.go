package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultListen is the loopback address the Control API binds to.
const DefaultListen = "127.0.0.1:7341"

// Config represents the main configuration for foldguard.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Listen     string           `toml:"listen"`
	Protection ProtectionConfig `toml:"protection"`
	Engine     EngineConfig     `toml:"engine"`
	Retention  RetentionConfig  `toml:"retention"`
	Vault      VaultConfig      `toml:"vault"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// ProtectionConfig holds the policy switches.
type ProtectionConfig struct {
	Enabled              bool   `toml:"enabled"` // initial state when no toggle has been recorded
	FailClosed           bool   `toml:"fail_closed"`
	AllowConfirmedDelete bool   `toml:"allow_confirmed_delete"`
	DefaultMode          string `toml:"default_mode"` // "preventable" or "advisory"
	ScanOnProtect        bool   `toml:"scan_on_protect"`
	Watch                bool   `toml:"watch"` // run the fsnotify source over protected paths
}

// EngineConfig sizes the decision engine and its spool.
type EngineConfig struct {
	QueueCapacity int      `toml:"queue_capacity"`
	Workers       int      `toml:"workers"`
	DedupWindow   Duration `toml:"dedup_window"`
	ProbeInterval Duration `toml:"probe_interval"`

	SpoolType    string `toml:"spool_type"`               // "filesystem" or "memory"
	SpoolDir     string `toml:"spool_dir,omitempty"`      // only used for spool_type=filesystem
	SpoolMaxSize int64  `toml:"spool_max_size,omitempty"` // bytes held at once; 0 means the default
}

// RetentionConfig bounds snapshot history.
type RetentionConfig struct {
	MaxSnapshotsPerPath int      `toml:"max_snapshots_per_path"`
	MaxAge              Duration `toml:"max_age"` // 0 keeps snapshots regardless of age
	SweepInterval       Duration `toml:"sweep_interval"`
}

// EncryptionConfig selects at-rest encryption of snapshot objects.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	// PassphraseEnv names the environment variable the daemon reads to
	// unlock the private key for restores.
	PassphraseEnv string `toml:"passphrase_env,omitempty"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// VaultConfig represents configuration for the snapshot content store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "filesystem" or "memory"
	Name string `toml:"name"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// Duration is a time.Duration written as a string such as "2s" or "720h".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a Config with every default filled in, rooted at baseDir.
func NewConfig(baseDir string) *Config {
	cfg := defaults()
	cfg.BaseDir = baseDir
	cfg.fillPaths()
	return cfg
}

func defaults() *Config {
	return &Config{
		Listen: DefaultListen,
		Protection: ProtectionConfig{
			Enabled:              true,
			FailClosed:           true,
			AllowConfirmedDelete: true,
			DefaultMode:          "preventable",
			ScanOnProtect:        true,
			Watch:                true,
		},
		Engine: EngineConfig{
			QueueCapacity: 256,
			Workers:       4,
			DedupWindow:   Duration{2 * time.Second},
			ProbeInterval: Duration{30 * time.Second},
			SpoolType:     "filesystem",
		},
		Retention: RetentionConfig{
			MaxSnapshotsPerPath: 10,
			MaxAge:              Duration{720 * time.Hour},
			SweepInterval:       Duration{time.Hour},
		},
		Vault:      VaultConfig{Type: "filesystem", Name: "local"},
		Database:   DatabaseConfig{Type: "sqlite"},
		Encryption: EncryptionConfig{Type: "none", PassphraseEnv: "FOLDGUARD_PASSPHRASE"},
	}
}

// fillPaths derives unset directories from BaseDir.
func (c *Config) fillPaths() {
	if c.BaseDir == "" {
		return
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Engine.SpoolDir == "" && c.Engine.SpoolType == "filesystem" {
		c.Engine.SpoolDir = filepath.Join(c.BaseDir, "spool")
	}
	if c.Vault.FSVaultRoot == "" && c.Vault.Type == "filesystem" {
		c.Vault.FSVaultRoot = filepath.Join(c.BaseDir, "vault")
	}
	if c.Database.DataDir == "" && c.Database.Type == "sqlite" {
		c.Database.DataDir = filepath.Join(c.BaseDir, "db")
	}
	if c.Encryption.PublicKeyPath == "" {
		c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "foldguard.pub")
	}
	if c.Encryption.PrivateKeyPath == "" {
		c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "foldguard.key")
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	switch c.Protection.DefaultMode {
	case "preventable", "advisory":
	default:
		errs = append(errs, fmt.Errorf("protection.default_mode must be preventable or advisory, got %q", c.Protection.DefaultMode))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be at least 1"))
	}
	if c.Engine.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("engine.queue_capacity must be at least 1"))
	}
	if c.Engine.DedupWindow.Duration < 0 || c.Retention.MaxAge.Duration < 0 {
		errs = append(errs, fmt.Errorf("durations must not be negative"))
	}
	if c.Retention.MaxSnapshotsPerPath < 0 {
		errs = append(errs, fmt.Errorf("retention.max_snapshots_per_path must not be negative"))
	}
	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen address required"))
	}
	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r on top of the defaults, then derives any
// unset directories from base_dir.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := defaults()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.fillPaths()
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to a new config file at path. It fails if the file exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
