package batcher

import (
	"bytes"
	"fmt"
	"runtime"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/edgepulse/pulse/internal/config"
)

// compressor compresses batch payloads behind a bounded semaphore so
// CPU-bound compression cannot stall the flush path for other targets.
type compressor struct {
	algorithm string
	sem       chan struct{}
}

func newCompressor(algorithm string) *compressor {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	return &compressor{algorithm: algorithm, sem: make(chan struct{}, workers)}
}

// Compress returns the compressed form of data, or an error. Callers treat
// errors as non-fatal and deliver the payload uncompressed.
func (c *compressor) Compress(data []byte) ([]byte, error) {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	var buf bytes.Buffer
	switch c.algorithm {
	case config.AlgorithmGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case config.AlgorithmDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", c.algorithm)
	}
	return buf.Bytes(), nil
}
