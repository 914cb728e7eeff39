package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // mounted share driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobTarget writes objects through a gocloud bucket.
type BlobTarget struct {
	bucket    *blob.Bucket
	bucketURL string
	prefix    string
}

func newBlobTarget(ctx context.Context, bucketURL, prefix string) (*BlobTarget, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &BlobTarget{
		bucket:    bucket,
		bucketURL: bucketURL,
		prefix:    prefix,
	}, nil
}

func (s *BlobTarget) key(name string) string {
	return s.prefix + strings.TrimPrefix(name, "/")
}

// Put streams r into the bucket and returns the stored size and sha256.
// The object only becomes visible once the writer closes successfully.
func (s *BlobTarget) Put(ctx context.Context, name string, r io.Reader) (*ObjectInfo, error) {
	path := s.key(name)

	// Cancelling the writer context aborts the upload instead of
	// committing a partial object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", path, err)
	}

	hash := sha256.New()
	n, err := io.Copy(w, io.TeeReader(r, hash))
	if err != nil {
		cancel()
		w.Close()
		return nil, fmt.Errorf("write data to %s: %w", path, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer for %s: %w", path, err)
	}

	return &ObjectInfo{
		Key:      path,
		Size:     n,
		Checksum: "sha256:" + hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Exists checks if an object already exists.
func (s *BlobTarget) Exists(ctx context.Context, name string) (bool, error) {
	return s.bucket.Exists(ctx, s.key(name))
}

// List returns all keys with the given prefix, relative to the target prefix.
func (s *BlobTarget) List(ctx context.Context, prefix string) ([]string, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.key(prefix)})

	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.prefix))
	}
	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *BlobTarget) URI(name string) string {
	base := s.bucketURL
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, "/") + "/" + s.key(name)
}

// Close releases the bucket connection.
func (s *BlobTarget) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
