package storage

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Encodings supported for distributed objects.
const (
	EncodingNone = ""
	EncodingZstd = "zstd"
)

// ZstdSuffix is appended to object keys written with EncodingZstd.
const ZstdSuffix = ".zst"

// ParseEncoding validates an encoding name from configuration.
func ParseEncoding(name string) (string, error) {
	switch name {
	case "", "none":
		return EncodingNone, nil
	case "zstd":
		return EncodingZstd, nil
	default:
		return "", fmt.Errorf("unsupported compression %q (want none or zstd)", name)
	}
}

// Compress wraps r so reads yield the encoded stream. The returned reader
// must be drained or closed.
func Compress(r io.Reader, encoding string) (io.ReadCloser, error) {
	if encoding == EncodingNone {
		return io.NopCloser(r), nil
	}
	if encoding != EncodingZstd {
		return nil, fmt.Errorf("unsupported compression %q", encoding)
	}

	pr, pw := io.Pipe()
	enc, err := zstd.NewWriter(pw)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	go func() {
		_, err := io.Copy(enc, r)
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	return pr, nil
}

// Decompress returns a reader yielding the decoded bytes of r.
func Decompress(r io.Reader, encoding string) (io.ReadCloser, error) {
	if encoding == EncodingNone {
		return io.NopCloser(r), nil
	}
	if encoding != EncodingZstd {
		return nil, fmt.Errorf("unsupported compression %q", encoding)
	}

	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}
