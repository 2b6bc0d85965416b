package encryption

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestTestEncryptor_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"text", []byte("quarterly numbers")},
		{"empty", nil},
		{"binary", []byte{0x00, 0x5a, 0xff, 0xa5}},
		{"large", bytes.Repeat([]byte("0123456789"), 20000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewTestEncryptor()

			var ct bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &ct); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(ct.Bytes(), tt.input) {
				t.Error("ciphertext contains the plaintext")
			}
			if ct.Len() != len(testMagic)+len(tt.input) {
				t.Errorf("ciphertext length = %d, want %d", ct.Len(), len(testMagic)+len(tt.input))
			}

			dec, err := e.Unlock("")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var pt bytes.Buffer
			if err := dec.Decrypt(&ct, &pt); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(pt.Bytes(), tt.input) {
				t.Error("round trip changed the data")
			}
		})
	}
}

func TestTestEncryptor_Unlock(t *testing.T) {
	e := NewTestEncryptor()
	if _, err := e.Unlock("anything"); err != nil {
		t.Fatalf("Unlock() before Setup error = %v", err)
	}

	if err := e.Setup("hunter2"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("hunter3"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock(wrong) error = %v, want ErrWrongPassphrase", err)
	}
	if _, err := e.Unlock("hunter2"); err != nil {
		t.Errorf("Unlock(right) error = %v", err)
	}
}

func TestTestDecrypter_RejectsForeignData(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "fg-"},
		{"plaintext", "just a regular file body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := (testDecrypter{}).Decrypt(strings.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}
