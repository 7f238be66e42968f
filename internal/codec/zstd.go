package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"arc-go/internal/arc"
)

// Zstd compresses whole blocks with zstd. EncodeAll and DecodeAll are safe
// for concurrent use, so one Zstd serves every worker.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ arc.Compressor = (*Zstd)(nil)

// NewZstd creates a compressor at the default speed level.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases the encoder and stops the decoder's goroutines.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
