package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Target is an attached distribution destination (a mounted share or an
// object store bucket).
type Target interface {
	// Put writes the contents of r under key. Writes are all-or-nothing
	// per object.
	Put(ctx context.Context, key string, r io.Reader) (*ObjectInfo, error)

	// Exists checks if an object already exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical URI for the given key.
	// For file: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key      string
	Size     int64
	Checksum string
}

// Manifest describes one distribution batch.
type Manifest struct {
	Files     map[string]FileInfo `json:"files"`
	Producer  ProducerInfo        `json:"producer"`
	CreatedAt time.Time           `json:"created_at"`
}

// FileInfo describes a single distributed file.
type FileInfo struct {
	Key      string `json:"key"`
	Checksum string `json:"checksum"`
	ByteSize int64  `json:"byte_size"`
	Encoding string `json:"encoding,omitempty"`
}

// ProducerInfo describes the software that produced the batch.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// MarshalJSON returns the manifest as JSON bytes.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	type Alias Manifest
	return json.MarshalIndent((*Alias)(m), "", "  ")
}

// ManifestKey is the object name of the batch manifest.
const ManifestKey = "_manifest.json"

// Config configures a distribution target.
type Config struct {
	Backend string // "file" | "gcs" | "s3" | "mem"

	// file: the mounted share
	LocalDir string

	// GCS
	GCSBucket string

	// S3 (also works for B2, R2, MinIO)
	S3Bucket   string
	S3Endpoint string
	S3Region   string

	// Common
	Prefix string
}

// URL renders the gocloud bucket URL for the configuration.
func (cfg Config) URL() (string, error) {
	switch cfg.Backend {
	case "file":
		if cfg.LocalDir == "" {
			return "", fmt.Errorf("LocalDir required for file backend")
		}
		return fileURL(cfg.LocalDir)
	case "gcs":
		if cfg.GCSBucket == "" {
			return "", fmt.Errorf("GCSBucket required for gcs backend")
		}
		return "gs://" + cfg.GCSBucket, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return "", fmt.Errorf("S3Bucket required for s3 backend")
		}
		bucketURL := "s3://" + cfg.S3Bucket
		params := url.Values{}
		if cfg.S3Region != "" {
			params.Set("region", cfg.S3Region)
		}
		if cfg.S3Endpoint != "" {
			params.Set("endpoint", cfg.S3Endpoint)
			params.Set("s3ForcePathStyle", "true")
		}
		if len(params) > 0 {
			bucketURL += "?" + params.Encode()
		}
		return bucketURL, nil
	case "mem":
		return "mem://", nil
	default:
		return "", fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Open attaches the target described by cfg.
func Open(ctx context.Context, cfg Config) (Target, error) {
	u, err := cfg.URL()
	if err != nil {
		return nil, err
	}
	return OpenURL(ctx, u, cfg.Prefix)
}

// OpenURL attaches a target from a bucket URL. A bare filesystem path is
// treated as a mounted share.
func OpenURL(ctx context.Context, rawURL, prefix string) (Target, error) {
	if !strings.Contains(rawURL, "://") {
		u, err := fileURL(rawURL)
		if err != nil {
			return nil, err
		}
		rawURL = u
	}
	t, err := newBlobTarget(ctx, rawURL, prefix)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// fileURL turns a directory path into a fileblob URL that creates the
// directory on open.
func fileURL(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return "file://" + filepath.ToSlash(abs) + "?create_dir=true", nil
}
