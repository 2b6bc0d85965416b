package guard

import "io"

// Vault is content-addressed storage for snapshot bytes.
type Vault interface {
	// PutContent stores content under key unless an object with that key
	// already exists, in which case r is drained and the existing object
	// kept. A negative size skips the length check.
	PutContent(key string, r io.Reader, size int64) error

	// GetContent writes the object stored under key to w.
	GetContent(key string, w io.Writer) error

	// HasContent reports whether an object is stored under key.
	HasContent(key string) (bool, error)

	// DeleteContent removes the object stored under key. Missing objects are not an error.
	DeleteContent(key string) error

	// PutMetadata stores a named blob (the exported manifest) with a version marker.
	PutMetadata(name string, r io.Reader, size int64, version int64) error

	// GetMetadataVersion returns the stored version of a named blob, or 0.
	GetMetadataVersion(name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup() error
}

// Encryptor encrypts snapshot content at rest. Encryption needs the public
// key only; decryption needs a DecryptionContext obtained with the passphrase.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error
	Encrypt(r io.Reader, w io.Writer) error
	Unlock(passphrase string) (DecryptionContext, error)
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Spool holds private, hashed copies of files while they are being stored,
// so the bytes hashed are exactly the bytes written to the vault.
type Spool interface {
	Capture(r io.Reader) (SpooledContent, error)
}

// SpooledContent is one captured copy.
type SpooledContent interface {
	Checksum() string
	Size() int64
	Open() (io.ReadCloser, error)
	Release() error
}
