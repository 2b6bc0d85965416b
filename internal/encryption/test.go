package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"foldguard/internal/guard"
)

var testMagic = []byte("fg-test-enc/1\n")

const testMask = 0x5a

// ErrWrongPassphrase is returned by TestEncryptor.Unlock when the passphrase
// differs from the one given to Setup.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor is a keyless, deterministic encryptor for tests and for the
// "test" encryption type. Output is a magic line followed by the input with
// every byte masked, so a vault never holds the plaintext verbatim.
type TestEncryptor struct {
	passphrase string
}

var _ guard.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup records passphrase. Until it is called any passphrase unlocks.
func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return mask(r, w)
}

func (e *TestEncryptor) Unlock(passphrase string) (guard.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return testDecrypter{}, nil
}

type testDecrypter struct{}

func (testDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	head := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(head, testMagic) {
		return errors.New("not test-encrypted data")
	}
	return mask(r, w)
}

func mask(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
		if err := bw.WriteByte(b ^ testMask); err != nil {
			return fmt.Errorf("writing data: %w", err)
		}
	}
	return bw.Flush()
}
