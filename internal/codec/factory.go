package codec

import (
	"fmt"

	"arc-go/internal/arc"
	"arc-go/internal/config"
)

// NewCipherFromConfig returns the configured cipher, or nil for "none".
func NewCipherFromConfig(cfg config.CodecConfig) (arc.Cipher, error) {
	switch cfg.Cipher {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeCipher(cfg.PublicKeyPath, cfg.PrivateKeyPath), nil
	case "test":
		return NewTestCipher(), nil
	default:
		return nil, fmt.Errorf("unknown cipher type: %q", cfg.Cipher)
	}
}

// NewCodecFromConfig builds the block pipeline described by cfg.
func NewCodecFromConfig(cfg config.CodecConfig) (*Pipeline, error) {
	cipher, err := NewCipherFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewPipeline(cfg.Compression, cipher)
}
