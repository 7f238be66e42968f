package codec

import (
	"bytes"
	"fmt"
	"io"

	"arc-go/internal/arc"
)

// testHeader is prepended by TestCipher so ciphered payloads differ from
// plaintext while staying deterministic.
var testHeader = []byte("ARCENC\x00\x00")

// TestCipher is a deterministic cipher for tests. It prepends a fixed
// 8-byte header on encryption and strips it on decryption.
type TestCipher struct {
	setupCalled bool
}

var _ arc.Cipher = (*TestCipher)(nil)

func NewTestCipher() *TestCipher {
	return &TestCipher{}
}

func (c *TestCipher) Setup(passphrase string) error {
	c.setupCalled = true
	return nil
}

func (c *TestCipher) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (c *TestCipher) Unlock(passphrase string) (arc.DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

func (c *TestCipher) IsConfigured() bool {
	return true
}

// TestDecryptionContext strips the header added by TestCipher.
type TestDecryptionContext struct{}

var _ arc.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
