package encryption

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"foldguard/internal/config"
)

func ageConfig(dir string) config.EncryptionConfig {
	return config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "foldguard.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "foldguard.key"),
	}
}

// Key wrapping uses scrypt, so one key pair serves every subtest.
func TestAgeEncryptor_Lifecycle(t *testing.T) {
	cfg := ageConfig(t.TempDir())
	e := NewAgeEncryptor(cfg)

	t.Run("unconfigured", func(t *testing.T) {
		if e.IsConfigured() {
			t.Error("IsConfigured() = true before Setup")
		}
		if err := e.Encrypt(strings.NewReader("x"), &bytes.Buffer{}); err == nil {
			t.Error("Encrypt() before Setup expected error")
		}
		if _, err := e.Unlock("pw"); err == nil {
			t.Error("Unlock() before Setup expected error")
		}
	})

	t.Run("empty passphrase", func(t *testing.T) {
		if err := e.Setup(""); err == nil {
			t.Fatal("Setup(\"\") expected error")
		}
		if e.IsConfigured() {
			t.Error("rejected Setup left keys behind")
		}
	})

	if err := e.Setup("correct horse"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	t.Run("key files", func(t *testing.T) {
		info, err := os.Stat(cfg.PrivateKeyPath)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("private key mode = %o, want 600", perm)
		}
		pub, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(string(pub), "age1") {
			t.Errorf("public key = %q, want an age1 recipient", pub)
		}
	})

	t.Run("setup refuses to replace keys", func(t *testing.T) {
		if err := e.Setup("other"); !errors.Is(err, ErrKeysExist) {
			t.Errorf("Setup() error = %v, want ErrKeysExist", err)
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		if _, err := e.Unlock("battery staple"); err == nil {
			t.Error("Unlock() expected error")
		}
	})

	dec, err := e.Unlock("correct horse")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		inputs := map[string][]byte{
			"text":   []byte("tax return 2025"),
			"empty":  {},
			"binary": {0x00, 0xff, 0x01},
			"large":  bytes.Repeat([]byte("abc"), 100_000),
		}
		for name, in := range inputs {
			t.Run(name, func(t *testing.T) {
				var ct, pt bytes.Buffer
				if err := e.Encrypt(bytes.NewReader(in), &ct); err != nil {
					t.Fatalf("Encrypt() error = %v", err)
				}
				if len(in) > 0 && bytes.Contains(ct.Bytes(), in) {
					t.Error("ciphertext contains the plaintext")
				}
				if err := dec.Decrypt(&ct, &pt); err != nil {
					t.Fatalf("Decrypt() error = %v", err)
				}
				if !bytes.Equal(pt.Bytes(), in) {
					t.Errorf("round trip returned %d bytes, want %d", pt.Len(), len(in))
				}
			})
		}
	})

	t.Run("second instance uses stored keys", func(t *testing.T) {
		other := NewAgeEncryptor(cfg)
		if !other.IsConfigured() {
			t.Fatal("IsConfigured() = false for existing keys")
		}
		var ct, pt bytes.Buffer
		if err := other.Encrypt(strings.NewReader("shared"), &ct); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if err := dec.Decrypt(&ct, &pt); err != nil || pt.String() != "shared" {
			t.Errorf("Decrypt() = %q, %v", pt.String(), err)
		}
	})

	t.Run("corrupt ciphertext", func(t *testing.T) {
		if err := dec.Decrypt(strings.NewReader("age-encryption.org/v1\ngarbage"), &bytes.Buffer{}); err == nil {
			t.Error("Decrypt() expected error")
		}
	})
}
