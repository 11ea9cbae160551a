package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// GzipCompressor is the stdlib-backed implementation of the Compression =
// Gzip wire option. It is unused by the reference Codec configuration;
// callers that want it set Codec.Compressor = &GzipCompressor{} and
// Codec.Header.SetCompression explicitly.
type GzipCompressor struct{}

func (GzipCompressor) Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (GzipCompressor) Decompress(p []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}
