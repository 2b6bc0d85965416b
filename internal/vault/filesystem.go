package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"foldguard/internal/guard"
)

// FileSystemVault stores snapshot objects and exported metadata as files:
//
//	<root>/
//	  content/
//	    <key>             (objects, named by content hash, ".age" when encrypted)
//	  metadata/
//	    <name>            (exported manifest copies)
//	    <name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

// NewFileSystemVault creates a vault rooted at root, creating its layout.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	metadataDir := filepath.Join(root, "metadata")

	for _, dir := range []string{contentDir, metadataDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  contentDir,
		metadataDir: metadataDir,
	}, nil
}

// PutContent stores r under key. The object is published with a hard link,
// so when two writers race on the same key exactly one object survives and
// the loser's bytes are discarded.
func (v *FileSystemVault) PutContent(key string, r io.Reader, size int64) error {
	dest, err := v.contentPath(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dest); err == nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		return nil
	}

	tmp, err := v.writeTemp(v.contentDir, r, size)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, dest); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("failed to publish object: %w", err)
	}
	return nil
}

// GetContent writes the object stored under key to w.
func (v *FileSystemVault) GetContent(key string, w io.Writer) error {
	src, err := v.contentPath(key)
	if err != nil {
		return err
	}
	return readFile(src, w)
}

// HasContent reports whether an object exists under key.
func (v *FileSystemVault) HasContent(key string) (bool, error) {
	p, err := v.contentPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking object: %w", err)
	}
	return true, nil
}

// DeleteContent removes the object under key.
func (v *FileSystemVault) DeleteContent(key string) error {
	p, err := v.contentPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// PutMetadata replaces the named blob and records its version.
func (v *FileSystemVault) PutMetadata(name string, r io.Reader, size int64, version int64) error {
	if err := validKey(name); err != nil {
		return err
	}
	tmp, err := v.writeTemp(v.metadataDir, r, size)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(v.metadataDir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	versionPath := filepath.Join(v.metadataDir, name+".version")
	return os.WriteFile(versionPath, []byte(strconv.FormatInt(version, 10)), 0o600)
}

// GetMetadataVersion returns the version stored with name, or 0 if none.
func (v *FileSystemVault) GetMetadataVersion(name string) (int64, error) {
	if err := validKey(name); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(v.metadataDir, name+".version"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata writes the named blob to w.
func (v *FileSystemVault) GetMetadata(name string, w io.Writer) error {
	if err := validKey(name); err != nil {
		return err
	}
	return readFile(filepath.Join(v.metadataDir, name), w)
}

// ValidateSetup checks the layout exists and that the content directory
// accepts a write, which catches full and read-only volumes.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	for _, dir := range []string{v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}

	probe, err := os.CreateTemp(v.contentDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault not writable: %w", err)
	}
	name := probe.Name()
	_, werr := probe.Write([]byte{0})
	cerr := probe.Close()
	os.Remove(name)
	if werr != nil {
		return fmt.Errorf("vault not writable: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("vault not writable: %w", cerr)
	}
	return nil
}

func (v *FileSystemVault) contentPath(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(v.contentDir, key), nil
}

// writeTemp copies r into a synced temp file in dir and returns its path.
// A negative expectedSize skips the length check.
func (v *FileSystemVault) writeTemp(dir string, r io.Reader, expectedSize int64) (string, error) {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && expectedSize >= 0 && written != expectedSize {
		err = fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	return tmpPath, nil
}

func readFile(src string, w io.Writer) error {
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("object %s: %w", filepath.Base(src), fs.ErrNotExist)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// validKey rejects keys that could escape the vault directories.
func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid vault key %q", key)
	}
	return nil
}

var _ guard.Vault = (*FileSystemVault)(nil)
