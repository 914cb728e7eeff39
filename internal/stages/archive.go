package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveResult is the payload of clean_workspace.
type ArchiveResult struct {
	ArchiveFolder string   `json:"archive_folder"`
	ArchivedFiles []string `json:"archived_files"`
	Count         int      `json:"count"`
}

// CleanWorkspace moves leftover files from the working directory into a
// timestamped archive folder.
type CleanWorkspace struct {
	deps Deps
}

func (*CleanWorkspace) Name() string { return OpCleanWorkspace }

func (*CleanWorkspace) Describe() Schema {
	return Schema{
		Description: "Archive files of the given types from the working directory into a timestamped folder under the archive directory.",
		Params: []Param{
			{Name: "working_directory", Type: TypeString, Description: "Directory to clean.", Required: true},
			{Name: "archive_directory", Type: TypeString, Description: "Root directory for archive folders.", Required: true},
			{Name: "file_types", Type: TypeStringList, Description: "File extensions to archive, e.g. [\"xlsx\", \"csv\"].", Required: true},
		},
	}
}

func (s *CleanWorkspace) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpCleanWorkspace)

	workDir, err := args.String("working_directory")
	if err != nil {
		return nil, err
	}
	archiveDir, err := args.String("archive_directory")
	if err != nil {
		return nil, err
	}
	types, err := args.Strings("file_types")
	if err != nil {
		return nil, err
	}

	exts := make(map[string]bool, len(types))
	for _, t := range types {
		exts[normalizeExt(t)] = true
	}

	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", workDir, err)
	}
	absArchive, err := filepath.Abs(archiveDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", archiveDir, err)
	}

	folder := filepath.Join(absArchive, "archive_"+s.deps.now().Format("20060102150405"))
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, fmt.Errorf("create archive folder: %w", err)
	}

	result := ArchiveResult{ArchiveFolder: folder, ArchivedFiles: []string{}}

	// Files already under the archive root are never archived again.
	if within(absWork, absArchive) {
		log.Info("working directory is inside the archive directory, nothing to archive")
		return result, nil
	}

	entries, err := os.ReadDir(absWork)
	if err != nil {
		return nil, fmt.Errorf("read working directory: %w", err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !exts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src := filepath.Join(absWork, e.Name())
		if err := moveFile(src, filepath.Join(folder, e.Name())); err != nil {
			return nil, fmt.Errorf("archive %s (archived so far: %d): %w", e.Name(), len(result.ArchivedFiles), err)
		}
		result.ArchivedFiles = append(result.ArchivedFiles, e.Name())
	}

	result.Count = len(result.ArchivedFiles)
	log.Info("workspace cleaned", "archive_folder", folder, "count", result.Count)
	return result, nil
}
