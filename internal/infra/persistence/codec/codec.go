// Package codec compresses record payloads before they reach disk.
package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	initOnce sync.Once
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	initErr  error
)

func coders() (*zstd.Encoder, *zstd.Decoder, error) {
	initOnce.Do(func() {
		encoder, initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil)
	})
	return encoder, decoder, initErr
}

// Compress returns the zstd frame for payload.
func Compress(payload []byte) ([]byte, error) {
	enc, _, err := coders()
	if err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	return enc.EncodeAll(payload, make([]byte, 0, len(payload))), nil
}

// Decompress reverses Compress.
func Decompress(frame []byte) ([]byte, error) {
	_, dec, err := coders()
	if err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	out, err := dec.DecodeAll(frame, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
