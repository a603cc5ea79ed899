// Package compression wraps zstd for object-at-rest compression.
//
// Frames are self-describing: the first byte marks whether the payload
// is raw or zstd, so incompressible data can be stored verbatim without
// guessing on the read path.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  = 0x00
	frameZstd = 0x01

	// Payloads below this size are stored raw; the frame overhead and
	// zstd headers outweigh any savings.
	minCompressSize = 128
)

type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

func NewCompressor(level int, enabled bool) (*Compressor, error) {
	if !enabled {
		return &Compressor{enabled: false}, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Compressor{encoder: encoder, decoder: decoder, enabled: true}, nil
}

// Compress frames data, compressing it when that actually helps.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if !c.enabled || len(data) < minCompressSize {
		return frame(frameRaw, data), nil
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return frame(frameRaw, data), nil
	}
	return frame(frameZstd, compressed), nil
}

// Decompress unframes data written by Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	payload := data[1:]
	switch data[0] {
	case frameRaw:
		return payload, nil
	case frameZstd:
		if c.decoder == nil {
			return nil, fmt.Errorf("zstd frame but compression disabled")
		}
		return c.decoder.DecodeAll(payload, nil)
	}
	return nil, fmt.Errorf("unknown frame marker 0x%02x", data[0])
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}

func frame(marker byte, payload []byte) []byte {
	out := make([]byte, len(payload)+1)
	out[0] = marker
	copy(out[1:], payload)
	return out
}
