package encryption

import (
	"fmt"
	"os"

	"foldguard/internal/config"
	"foldguard/internal/guard"
)

// NewEncryptorFromConfig returns the Encryptor selected by cfg.Type, or nil
// when snapshots are stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (guard.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// UnlockFromEnv unlocks enc with the passphrase held in the environment
// variable cfg.PassphraseEnv. It returns nil when the variable is unset, in
// which case encrypted snapshots can be written but not restored.
func UnlockFromEnv(enc guard.Encryptor, cfg config.EncryptionConfig) (guard.DecryptionContext, error) {
	if enc == nil || cfg.PassphraseEnv == "" {
		return nil, nil
	}
	pass, ok := os.LookupEnv(cfg.PassphraseEnv)
	if !ok {
		return nil, nil
	}
	return enc.Unlock(pass)
}
