package arc

import "io"

// CodecFlags records how a stored block payload was transformed.
type CodecFlags struct {
	Compressed bool `json:"compress"`
	Ciphered   bool `json:"cipher"`
}

// BlockCodec transforms block payloads on their way into and out of the store.
type BlockCodec interface {
	// Encode transforms a plaintext block and reports which transforms were applied.
	Encode(plain []byte) ([]byte, CodecFlags, error)

	// Decode reverses the transforms named by flags.
	Decode(payload []byte, flags CodecFlags) ([]byte, error)
}

// Compressor compresses block payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Cipher encrypts block payloads. Encryption uses the public key only;
// decryption requires a passphrase to unlock the private key, producing a
// DecryptionContext for the session.
type Cipher interface {
	// Setup performs one-time key generation, storing the public key in
	// plaintext and the private key encrypted with the passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the key material exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the duration
// of a session. The unlocked key is never written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
