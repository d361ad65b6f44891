package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// MaxPayload bounds the declared uncompressed size accepted by DecompressString.
const MaxPayload = 64 << 20

// CompressString gzips s behind a 4-byte uncompressed length. An empty
// string yields only the zero length.
func CompressString(s string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(AppendUint32(nil, uint32(len(s))))
	if s == "" {
		return buf.Bytes(), nil
	}
	zw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(zw, s); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressString reverses CompressString.
func DecompressString(b []byte) (string, error) {
	pos := 0
	n, err := ReadUint32(b, &pos)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > MaxPayload {
		return "", fmt.Errorf("payload of %d bytes exceeds limit", n)
	}
	zr, err := gzip.NewReader(bytes.NewReader(b[pos:]))
	if err != nil {
		return "", fmt.Errorf("gzip open: %w", err)
	}
	defer zr.Close()
	out := make([]byte, n)
	if _, err := io.ReadFull(zr, out); err != nil {
		return "", fmt.Errorf("gzip read: %w", err)
	}
	return string(out), nil
}
