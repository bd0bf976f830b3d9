package compression

import (
	"fmt"

	"github.com/corvusdb/corvus/pkg/document"
)

// CompressedDocument encodes documents to BSON and compresses the encoding in
// one step, the shape collection storage persists.
type CompressedDocument struct {
	compressor *Compressor
}

// NewCompressedDocument creates a document codec for the configuration.
func NewCompressedDocument(config *Config) (*CompressedDocument, error) {
	compressor, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}
	return &CompressedDocument{compressor: compressor}, nil
}

// Encode serializes a document to BSON and compresses the result.
func (cd *CompressedDocument) Encode(doc *document.Document) ([]byte, error) {
	encoded, err := cd.encodeBSON(doc)
	if err != nil {
		return nil, err
	}
	compressed, err := cd.compressor.Compress(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to compress document: %w", err)
	}
	return compressed, nil
}

// Decode decompresses and deserializes a document produced by Encode.
func (cd *CompressedDocument) Decode(data []byte) (*document.Document, error) {
	encoded, err := cd.compressor.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress document: %w", err)
	}
	doc, err := document.NewDecoder(encoded).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Close releases the codec.
func (cd *CompressedDocument) Close() error {
	return cd.compressor.Close()
}

func (cd *CompressedDocument) encodeBSON(doc *document.Document) ([]byte, error) {
	encoded, err := document.NewEncoder().Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return encoded, nil
}

// CompressionStats reports how well one document compresses.
type CompressionStats struct {
	OriginalSize   int
	CompressedSize int
	Ratio          float64
	SpaceSavings   float64
	Algorithm      string
}

// GetCompressionStats encodes and compresses a document without storing it,
// reporting the sizes either way.
func (cd *CompressedDocument) GetCompressionStats(doc *document.Document) (*CompressionStats, error) {
	encoded, err := cd.encodeBSON(doc)
	if err != nil {
		return nil, err
	}
	compressed, err := cd.compressor.Compress(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to compress document: %w", err)
	}
	return &CompressionStats{
		OriginalSize:   len(encoded),
		CompressedSize: len(compressed),
		Ratio:          CompressionRatio(len(encoded), len(compressed)),
		SpaceSavings:   SpaceSavings(len(encoded), len(compressed)),
		Algorithm:      cd.compressor.config.Algorithm.String(),
	}, nil
}
