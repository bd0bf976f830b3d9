package compression

import (
	"encoding/binary"
	"fmt"
)

const (
	// blobHeaderSize is the size of the sealed blob header:
	// [1-byte algorithm][4-byte original size][4-byte compressed size]
	blobHeaderSize = 9
)

// Blob seals payloads into self-describing compressed frames. The header
// records the algorithm and sizes, so a frame validates itself on open.
type Blob struct {
	compressor *Compressor
}

// NewBlob creates a blob codec with the given configuration.
func NewBlob(config *Config) (*Blob, error) {
	compressor, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}
	return &Blob{compressor: compressor}, nil
}

// Seal compresses a payload and prefixes the frame header.
func (b *Blob) Seal(payload []byte) ([]byte, error) {
	compressed, err := b.compressor.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}

	result := make([]byte, blobHeaderSize+len(compressed))
	result[0] = byte(b.compressor.config.Algorithm)
	binary.LittleEndian.PutUint32(result[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(result[5:9], uint32(len(compressed)))
	copy(result[blobHeaderSize:], compressed)
	return result, nil
}

// Open validates a frame and returns the decompressed payload.
func (b *Blob) Open(data []byte) ([]byte, error) {
	if len(data) < blobHeaderSize {
		return nil, fmt.Errorf("invalid compressed blob: too short")
	}

	algorithm := Algorithm(data[0])
	originalSize := binary.LittleEndian.Uint32(data[1:5])
	compressedSize := binary.LittleEndian.Uint32(data[5:9])

	if algorithm != b.compressor.config.Algorithm {
		return nil, fmt.Errorf("algorithm mismatch: expected %v, got %v",
			b.compressor.config.Algorithm, algorithm)
	}
	if len(data)-blobHeaderSize != int(compressedSize) {
		return nil, fmt.Errorf("compressed size mismatch: expected %d, got %d",
			compressedSize, len(data)-blobHeaderSize)
	}

	payload, err := b.compressor.Decompress(data[blobHeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if len(payload) != int(originalSize) {
		return nil, fmt.Errorf("decompressed size mismatch: expected %d, got %d",
			originalSize, len(payload))
	}
	return payload, nil
}

// Close releases the codec.
func (b *Blob) Close() error {
	return b.compressor.Close()
}
