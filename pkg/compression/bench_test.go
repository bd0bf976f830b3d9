package compression

import (
	"strings"
	"testing"

	"github.com/corvusdb/corvus/pkg/document"
)

// BenchmarkCompression benchmarks different compression algorithms
func BenchmarkCompressionSnappy(b *testing.B) {
	data := []byte(strings.Repeat("benchmark data for compression testing ", 100))
	compressor, _ := NewCompressor(SnappyConfig())
	defer compressor.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Compress(data)
	}
}

func BenchmarkCompressionZstd(b *testing.B) {
	data := []byte(strings.Repeat("benchmark data for compression testing ", 100))
	compressor, _ := NewCompressor(ZstdConfig(3))
	defer compressor.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Compress(data)
	}
}

func BenchmarkCompressionGzip(b *testing.B) {
	data := []byte(strings.Repeat("benchmark data for compression testing ", 100))
	compressor, _ := NewCompressor(GzipConfig(6))
	defer compressor.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Compress(data)
	}
}

// BenchmarkDecompression benchmarks different decompression algorithms
func BenchmarkDecompressionSnappy(b *testing.B) {
	data := []byte(strings.Repeat("benchmark data for decompression testing ", 100))
	compressor, _ := NewCompressor(SnappyConfig())
	defer compressor.Close()
	compressed, _ := compressor.Compress(data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Decompress(compressed)
	}
}

func BenchmarkDecompressionZstd(b *testing.B) {
	data := []byte(strings.Repeat("benchmark data for decompression testing ", 100))
	compressor, _ := NewCompressor(ZstdConfig(3))
	defer compressor.Close()
	compressed, _ := compressor.Compress(data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Decompress(compressed)
	}
}

func BenchmarkDecompressionGzip(b *testing.B) {
	data := []byte(strings.Repeat("benchmark data for decompression testing ", 100))
	compressor, _ := NewCompressor(GzipConfig(6))
	defer compressor.Close()
	compressed, _ := compressor.Compress(data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Decompress(compressed)
	}
}

func benchDocument(fields int) *document.Document {
	doc := document.NewDocument()
	doc.Set("_id", document.NewObjectID(document.GenerateObjectID()))
	doc.Set("name", document.String("Performance Test"))
	doc.Set("email", document.String("perf@example.com"))
	doc.Set("age", document.Int64(30))
	doc.Set("active", document.Bool(true))
	for i := 0; i < fields; i++ {
		fieldName := "field_" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		doc.Set(fieldName, document.String("value with some repeating data for compression"))
	}
	return doc
}

// BenchmarkDocumentCompression benchmarks document compression
func BenchmarkDocumentCompression(b *testing.B) {
	compDoc, _ := NewCompressedDocument(ZstdConfig(3))
	defer compDoc.Close()

	doc := benchDocument(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compDoc.Encode(doc)
	}
}

func BenchmarkDocumentDecompression(b *testing.B) {
	compDoc, _ := NewCompressedDocument(ZstdConfig(3))
	defer compDoc.Close()

	compressed, _ := compDoc.Encode(benchDocument(0))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compDoc.Decode(compressed)
	}
}

// BenchmarkBlobSeal benchmarks framed payload compression
func BenchmarkBlobSeal(b *testing.B) {
	blob, _ := NewBlob(ZstdConfig(3))
	defer blob.Close()

	payload := []byte(strings.Repeat("This is realistic payload data with some repetition. ", 150))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = blob.Seal(payload)
	}
}

func BenchmarkBlobOpen(b *testing.B) {
	blob, _ := NewBlob(ZstdConfig(3))
	defer blob.Close()

	payload := []byte(strings.Repeat("This is realistic payload data with some repetition. ", 150))
	sealed, _ := blob.Seal(payload)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = blob.Open(sealed)
	}
}

// BenchmarkCompressionLevels benchmarks different compression levels
func BenchmarkZstdLevel1(b *testing.B) {
	data := []byte(strings.Repeat("compression level benchmark ", 200))
	compressor, _ := NewCompressor(ZstdConfig(1))
	defer compressor.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Compress(data)
	}
}

func BenchmarkZstdLevel3(b *testing.B) {
	data := []byte(strings.Repeat("compression level benchmark ", 200))
	compressor, _ := NewCompressor(ZstdConfig(3))
	defer compressor.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Compress(data)
	}
}

func BenchmarkZstdLevel9(b *testing.B) {
	data := []byte(strings.Repeat("compression level benchmark ", 200))
	compressor, _ := NewCompressor(ZstdConfig(9))
	defer compressor.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compressor.Compress(data)
	}
}

// BenchmarkLargeDocument benchmarks compression of large documents
func BenchmarkLargeDocumentCompression(b *testing.B) {
	compDoc, _ := NewCompressedDocument(ZstdConfig(3))
	defer compDoc.Close()

	doc := benchDocument(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compDoc.Encode(doc)
	}
}

func BenchmarkLargeDocumentDecompression(b *testing.B) {
	compDoc, _ := NewCompressedDocument(ZstdConfig(3))
	defer compDoc.Close()

	compressed, _ := compDoc.Encode(benchDocument(100))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compDoc.Decode(compressed)
	}
}

// BenchmarkCompareAlgorithms benchmarks all algorithms for comparison
func BenchmarkCompareAlgorithmsCompress(b *testing.B) {
	data := []byte(strings.Repeat("algorithm comparison benchmark data ", 100))

	benchmarks := []struct {
		name   string
		config *Config
	}{
		{"Snappy", SnappyConfig()},
		{"Zstd-1", ZstdConfig(1)},
		{"Zstd-3", ZstdConfig(3)},
		{"Zstd-9", ZstdConfig(9)},
		{"Gzip-1", GzipConfig(1)},
		{"Gzip-6", GzipConfig(6)},
		{"Gzip-9", GzipConfig(9)},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			compressor, _ := NewCompressor(bm.config)
			defer compressor.Close()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = compressor.Compress(data)
			}
		})
	}
}
