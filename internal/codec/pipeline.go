// Package codec transforms block payloads between their plaintext form and
// the bytes kept in the content store: optional zstd compression followed by
// optional encryption.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"arc-go/internal/arc"
)

// ErrLocked is returned when decoding a ciphered payload before Unlock.
var ErrLocked = errors.New("cipher is locked")

// Pipeline implements arc.BlockCodec. Encode compresses (when enabled and
// the result is smaller) and then encrypts (when a cipher is set). Decode
// follows the flags recorded with the payload, so blocks written under a
// different configuration stay readable.
type Pipeline struct {
	zstd     *Zstd
	compress bool
	cipher   arc.Cipher

	mu  sync.RWMutex
	dec arc.DecryptionContext
}

var _ arc.BlockCodec = (*Pipeline)(nil)

// NewPipeline creates a pipeline. A nil cipher stores payloads unencrypted.
func NewPipeline(compress bool, cipher arc.Cipher) (*Pipeline, error) {
	z, err := NewZstd()
	if err != nil {
		return nil, err
	}
	return &Pipeline{zstd: z, compress: compress, cipher: cipher}, nil
}

// Cipher returns the configured cipher, or nil.
func (p *Pipeline) Cipher() arc.Cipher {
	return p.cipher
}

// Unlock unlocks the cipher's private key for the remainder of the session.
func (p *Pipeline) Unlock(passphrase string) error {
	if p.cipher == nil {
		return nil
	}
	dec, err := p.cipher.Unlock(passphrase)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.dec = dec
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) Encode(plain []byte) ([]byte, arc.CodecFlags, error) {
	var flags arc.CodecFlags
	payload := plain

	if p.compress {
		packed, err := p.zstd.Compress(plain)
		if err != nil {
			return nil, flags, fmt.Errorf("compressing block: %w", err)
		}
		if len(packed) < len(plain) {
			payload = packed
			flags.Compressed = true
		}
	}

	if p.cipher != nil {
		var buf bytes.Buffer
		if err := p.cipher.Encrypt(bytes.NewReader(payload), &buf); err != nil {
			return nil, flags, fmt.Errorf("encrypting block: %w", err)
		}
		payload = buf.Bytes()
		flags.Ciphered = true
	}
	return payload, flags, nil
}

func (p *Pipeline) Decode(payload []byte, flags arc.CodecFlags) ([]byte, error) {
	data := payload

	if flags.Ciphered {
		p.mu.RLock()
		dec := p.dec
		p.mu.RUnlock()
		if dec == nil {
			return nil, ErrLocked
		}
		var buf bytes.Buffer
		if err := dec.Decrypt(bytes.NewReader(data), &buf); err != nil {
			return nil, fmt.Errorf("decrypting block: %w", err)
		}
		data = buf.Bytes()
	}

	if flags.Compressed {
		out, err := p.zstd.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing block: %w", err)
		}
		data = out
	}
	return data, nil
}

// Close releases the compressor.
func (p *Pipeline) Close() error {
	return p.zstd.Close()
}
