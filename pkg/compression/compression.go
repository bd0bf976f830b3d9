// Package compression provides the block codecs behind the storage layer:
// raw frame compression, self-describing sealed blobs, and compressed
// document encoding.
package compression

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a frame compression algorithm. The value is persisted
// in sealed blob headers, so existing constants must keep their positions.
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmSnappy
	AlgorithmZstd
	AlgorithmGzip
	AlgorithmZlib
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZlib:
		return "zlib"
	}
	return "unknown"
}

// Config selects an algorithm and its level. Snappy ignores the level.
type Config struct {
	Algorithm Algorithm
	Level     int
}

// DefaultConfig favors zstd at level 3, the speed-to-ratio sweet spot for
// page-sized payloads.
func DefaultConfig() *Config {
	return &Config{Algorithm: AlgorithmZstd, Level: 3}
}

// SnappyConfig selects snappy, the cheapest codec for hot data.
func SnappyConfig() *Config {
	return &Config{Algorithm: AlgorithmSnappy}
}

// ZstdConfig selects zstd at the given level, clamped to the 1..19 range.
func ZstdConfig(level int) *Config {
	if level < 1 || level > 19 {
		level = 3
	}
	return &Config{Algorithm: AlgorithmZstd, Level: level}
}

// GzipConfig selects gzip at the given level, falling back to the default
// level when out of range.
func GzipConfig(level int) *Config {
	if level < gzip.NoCompression || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Config{Algorithm: AlgorithmGzip, Level: level}
}

// codec squeezes and expands one frame of bytes.
type codec interface {
	squeeze(data []byte) ([]byte, error)
	expand(data []byte) ([]byte, error)
	close()
}

// Compressor compresses and decompresses byte frames with a fixed algorithm.
// It is not safe for concurrent use; callers hold one per store.
type Compressor struct {
	config *Config
	codec  codec
}

// NewCompressor builds a compressor for the configuration, defaulting to
// DefaultConfig when nil.
func NewCompressor(config *Config) (*Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c, err := newCodec(config)
	if err != nil {
		return nil, err
	}
	return &Compressor{config: config, codec: c}, nil
}

func newCodec(config *Config) (codec, error) {
	switch config.Algorithm {
	case AlgorithmNone:
		return passthroughCodec{}, nil
	case AlgorithmSnappy:
		return snappyCodec{}, nil
	case AlgorithmZstd:
		return newZstdCodec(config.Level)
	case AlgorithmGzip:
		return &deflateCodec{
			newWriter: func(w io.Writer) (io.WriteCloser, error) {
				return gzip.NewWriterLevel(w, config.Level)
			},
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				return gzip.NewReader(r)
			},
		}, nil
	case AlgorithmZlib:
		return &deflateCodec{
			newWriter: func(w io.Writer) (io.WriteCloser, error) {
				return zlib.NewWriterLevel(w, config.Level)
			},
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				return zlib.NewReader(r)
			},
		}, nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm: %v", config.Algorithm)
}

// Compress compresses a frame. Empty input passes through untouched.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	return c.codec.squeeze(data)
}

// Decompress expands a frame produced by Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	return c.codec.expand(data)
}

// Close releases codec resources.
func (c *Compressor) Close() error {
	c.codec.close()
	return nil
}

type passthroughCodec struct{}

func (passthroughCodec) squeeze(data []byte) ([]byte, error) { return data, nil }
func (passthroughCodec) expand(data []byte) ([]byte, error)  { return data, nil }
func (passthroughCodec) close()                              {}

type snappyCodec struct{}

func (snappyCodec) squeeze(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCodec) expand(data []byte) ([]byte, error) {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snappy frame: %w", err)
	}
	return decoded, nil
}

func (snappyCodec) close() {}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec(level int) (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (z *zstdCodec) squeeze(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, nil), nil
}

func (z *zstdCodec) expand(data []byte) ([]byte, error) {
	decoded, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode zstd frame: %w", err)
	}
	return decoded, nil
}

func (z *zstdCodec) close() {
	z.enc.Close()
	z.dec.Close()
}

// deflateCodec covers the stream-oriented stdlib codecs, gzip and zlib.
type deflateCodec struct {
	newWriter func(io.Writer) (io.WriteCloser, error)
	newReader func(io.Reader) (io.ReadCloser, error)
}

func (d *deflateCodec) squeeze(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := d.newWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressing writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush compressed frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *deflateCodec) expand(data []byte) ([]byte, error) {
	r, err := d.newReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed frame: %w", err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to expand frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *deflateCodec) close() {}

// CompressionRatio reports compressed size relative to original size; lower
// is better.
func CompressionRatio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}

// SpaceSavings reports the percentage of space reclaimed by compression.
func SpaceSavings(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return (1.0 - CompressionRatio(originalSize, compressedSize)) * 100
}
