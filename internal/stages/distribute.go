package stages

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/audit"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/storage"
)

// Version is the producer version stamped into distribution manifests.
var Version = "dev"

// DistributeResult is the payload of copy_to_lcs_data.
type DistributeResult struct {
	CopiedFiles []string `json:"copied_files"`
	Destination string   `json:"destination"`
	Manifest    string   `json:"manifest,omitempty"`
	AuditEvent  string   `json:"audit_event,omitempty"`
}

// Distribute copies result files onto the shared data target.
type Distribute struct {
	deps Deps
}

func (*Distribute) Name() string { return OpDistribute }

func (*Distribute) Describe() Schema {
	return Schema{
		Description: "Attach the destination (a mounted path or a file://, s3:// or gs:// URL) and copy the listed files from the source directory in order. The first failed copy stops the operation and reports what was already copied.",
		Params: []Param{
			{Name: "source_directory", Type: TypeString, Description: "Directory holding the files.", Required: true},
			{Name: "destination_url", Type: TypeString, Description: "Mounted path or bucket URL of the shared data store.", Required: true},
			{Name: "files_to_copy", Type: TypeStringList, Description: "File names to copy, in order.", Required: true},
			{Name: "compression", Type: TypeString, Description: "none (default) or zstd; zstd objects get a .zst suffix."},
			{Name: "write_manifest", Type: TypeBoolean, Description: "Write a _manifest.json with checksums after all copies succeed."},
		},
	}
}

func (s *Distribute) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpDistribute)

	srcDir, err := args.String("source_directory")
	if err != nil {
		return nil, err
	}
	dest, err := args.String("destination_url")
	if err != nil {
		return nil, err
	}
	files, err := args.Strings("files_to_copy")
	if err != nil {
		return nil, err
	}
	compression, err := args.OptString("compression", "none")
	if err != nil {
		return nil, err
	}
	encoding, err := storage.ParseEncoding(compression)
	if err != nil {
		return nil, &ArgError{Name: "compression", Reason: err.Error()}
	}
	withManifest, err := args.OptBool("write_manifest", false)
	if err != nil {
		return nil, err
	}

	target, err := storage.OpenURL(ctx, dest, "")
	if err != nil {
		return nil, &DistributionError{Copied: []string{}, Err: fmt.Errorf("attach %s: %w", dest, err)}
	}
	defer target.Close()

	manifest := &storage.Manifest{
		Files:     make(map[string]storage.FileInfo, len(files)),
		Producer:  storage.ProducerInfo{Name: "sol-pipeline", Version: Version},
		CreatedAt: s.deps.now().UTC(),
	}

	copied := []string{}
	result := DistributeResult{CopiedFiles: []string{}, Destination: dest}

	for _, name := range files {
		info, err := putFile(ctx, target, filepath.Join(srcDir, name), name, encoding)
		if err != nil {
			log.Error("distribution aborted", "failed", name, "copied", copied, "error", err)
			return nil, &DistributionError{Copied: copied, Failed: name, Err: err}
		}
		copied = append(copied, name)
		result.CopiedFiles = append(result.CopiedFiles, target.URI(info.Key))
		manifest.Files[name] = storage.FileInfo{
			Key:      info.Key,
			Checksum: info.Checksum,
			ByteSize: info.Size,
			Encoding: encoding,
		}
	}

	if withManifest {
		body, err := manifest.MarshalJSON()
		if err != nil {
			return nil, &DistributionError{Copied: copied, Failed: storage.ManifestKey, Err: err}
		}
		if _, err := target.Put(ctx, storage.ManifestKey, bytes.NewReader(body)); err != nil {
			return nil, &DistributionError{Copied: copied, Failed: storage.ManifestKey, Err: err}
		}
		result.Manifest = target.URI(storage.ManifestKey)
	}

	if s.deps.Audit != nil {
		evt := auditEvent(manifest, target, result)
		if err := s.deps.Audit.Emit(ctx, evt); err != nil {
			log.Warn("audit event not recorded", "error", err)
		} else {
			result.AuditEvent = evt.EventID
		}
	}

	log.Info("files distributed", "count", len(copied), "destination", dest)
	return result, nil
}

func auditEvent(m *storage.Manifest, target storage.Target, result DistributeResult) *audit.Event {
	evt := &audit.Event{
		Timestamp: m.CreatedAt,
		Batch: audit.BatchInfo{
			Destination: target.URI(""),
			Manifest:    result.Manifest,
			FileCount:   len(m.Files),
		},
		Files:    make(map[string]audit.FileInfo, len(m.Files)),
		Producer: audit.ProducerInfo{Name: m.Producer.Name, Version: m.Producer.Version},
	}
	for name, f := range m.Files {
		evt.Files[name] = audit.FileInfo{Checksum: f.Checksum, URI: target.URI(f.Key), ByteSize: f.ByteSize}
	}
	return evt
}

func putFile(ctx context.Context, target storage.Target, path, name, encoding string) (*storage.ObjectInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := storage.Compress(f, encoding)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	key := name
	if encoding == storage.EncodingZstd {
		key += storage.ZstdSuffix
	}

	start := time.Now()
	info, err := target.Put(ctx, key, r)
	if err != nil {
		return nil, err
	}
	stageLogger(ctx, OpDistribute).Debug("file copied",
		"file", name,
		"bytes", info.Size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return info, nil
}
