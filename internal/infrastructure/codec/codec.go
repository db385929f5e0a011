// Package codec encodes log entries for the broker. Large payloads are
// zstd-compressed and tagged so that readers can decode either form.
package codec

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"replica/internal/core/wal"
)

// Compression names a payload encoding.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// HeaderEncoding is the message header carrying the Compression of the value.
const HeaderEncoding = "content-encoding"

// DefaultThreshold is the payload size above which values are compressed.
const DefaultThreshold = 10 * 1024

// Codec is safe for concurrent use.
type Codec struct {
	compression Compression
	threshold   int
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// New creates a codec writing with compression. Reading accepts every
// Compression regardless.
func New(compression Compression, threshold int) (*Codec, error) {
	switch compression {
	case "", CompressionNone:
		compression = CompressionNone
	case CompressionZstd:
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{
		compression: compression,
		threshold:   threshold,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

// Encode serialises e and reports the encoding applied.
func (c *Codec) Encode(e wal.Entry) ([]byte, Compression, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, "", fmt.Errorf("encode entry %s: %w", e.Tick, err)
	}
	if c.compression == CompressionZstd && len(data) > c.threshold {
		return c.encoder.EncodeAll(data, nil), CompressionZstd, nil
	}
	return data, CompressionNone, nil
}

// Decode parses a value written with encoding. An empty encoding means none.
func (c *Codec) Decode(data []byte, encoding Compression) (wal.Entry, error) {
	switch encoding {
	case "", CompressionNone:
	case CompressionZstd:
		raw, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return wal.Entry{}, fmt.Errorf("decompress entry: %w", err)
		}
		data = raw
	default:
		return wal.Entry{}, fmt.Errorf("unknown encoding %q", encoding)
	}

	var e wal.Entry
	if err := wal.Unmarshal(data, &e); err != nil {
		return wal.Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

// Close releases the compressor resources.
func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
