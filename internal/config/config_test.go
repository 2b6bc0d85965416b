package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/foldguard")
	original.Listen = "127.0.0.1:9000"
	original.Protection.FailClosed = false
	original.Protection.DefaultMode = "advisory"
	original.Engine.DedupWindow = Duration{5 * time.Second}
	original.Retention.MaxAge = Duration{0}
	original.Vault = VaultConfig{Type: "filesystem", Name: "local", FSVaultRoot: "/backup/vault"}
	original.Filesystem.Ignore = []string{"*.swp", ".git"}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen = %q, want %q", got.Listen, "127.0.0.1:9000")
	}
	if got.Protection.FailClosed {
		t.Error("Protection.FailClosed = true, want false")
	}
	if got.Protection.DefaultMode != "advisory" {
		t.Errorf("Protection.DefaultMode = %q, want advisory", got.Protection.DefaultMode)
	}
	if got.Engine.DedupWindow.Duration != 5*time.Second {
		t.Errorf("Engine.DedupWindow = %v, want 5s", got.Engine.DedupWindow)
	}
	if got.Retention.MaxAge.Duration != 0 {
		t.Errorf("Retention.MaxAge = %v, want 0", got.Retention.MaxAge)
	}
	if got.Vault.FSVaultRoot != "/backup/vault" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", got.Vault.FSVaultRoot, "/backup/vault")
	}
	if got.Encryption.PrivateKeyPath != original.Encryption.PrivateKeyPath {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", got.Encryption.PrivateKeyPath, original.Encryption.PrivateKeyPath)
	}
	if len(got.Filesystem.Ignore) != 2 {
		t.Fatalf("len(Filesystem.Ignore) = %d, want 2", len(got.Filesystem.Ignore))
	}
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	m := &Manager{}
	got, err := m.Read(strings.NewReader(`
base_dir = "/srv/fg"

[engine]
workers = 8
`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Engine.Workers != 8 {
		t.Errorf("Engine.Workers = %d, want 8", got.Engine.Workers)
	}
	if got.Engine.QueueCapacity != 256 {
		t.Errorf("Engine.QueueCapacity = %d, want default 256", got.Engine.QueueCapacity)
	}
	if !got.Protection.Enabled || !got.Protection.FailClosed {
		t.Error("protection defaults not applied")
	}
	if got.Listen != DefaultListen {
		t.Errorf("Listen = %q, want %q", got.Listen, DefaultListen)
	}
	if got.Database.DataDir != "/srv/fg/db" {
		t.Errorf("Database.DataDir = %q, want /srv/fg/db", got.Database.DataDir)
	}
	if got.Engine.SpoolDir != "/srv/fg/spool" {
		t.Errorf("Engine.SpoolDir = %q, want /srv/fg/spool", got.Engine.SpoolDir)
	}
}

func TestManager_Read_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[engine]\ndedup_window = \"soon\"\n"))
	if err == nil {
		t.Fatal("Read() expected error for invalid duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/fg")

	tests := []struct {
		field string
		got   string
		want  string
	}{
		{"BaseDir", cfg.BaseDir, "/data/fg"},
		{"LogDir", cfg.LogDir, "/data/fg/log"},
		{"Vault.FSVaultRoot", cfg.Vault.FSVaultRoot, "/data/fg/vault"},
		{"Database.DataDir", cfg.Database.DataDir, "/data/fg/db"},
		{"Encryption.PublicKeyPath", cfg.Encryption.PublicKeyPath, "/data/fg/keys/foldguard.pub"},
		{"Encryption.PrivateKeyPath", cfg.Encryption.PrivateKeyPath, "/data/fg/keys/foldguard.key"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Protection.DefaultMode = "sometimes" }},
		{"no workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"no queue", func(c *Config) { c.Engine.QueueCapacity = 0 }},
		{"negative window", func(c *Config) { c.Engine.DedupWindow = Duration{-time.Second} }},
		{"negative retention", func(c *Config) { c.Retention.MaxSnapshotsPerPath = -1 }},
		{"no listen", func(c *Config) { c.Listen = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data/fg")
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "foldguard.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "foldguard.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "foldguard.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
		if got.Database.DataDir != "" {
			t.Errorf("Database.DataDir = %q, want empty for memory", got.Database.DataDir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/foldguard.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
