package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultFilePrefix    = "NCR"
	defaultFileExtension = ".xlsx"
	fileDateLayout       = "20060102"
)

// RetrieveResult is the payload of retrieve_new_input_files.
type RetrieveResult struct {
	CopiedFiles          []string `json:"copied_files"`
	DestinationDirectory string   `json:"destination_directory"`
	Count                int      `json:"count"`
}

// RetrieveInputs copies dated export files inside the window into the
// working area.
type RetrieveInputs struct{}

func (*RetrieveInputs) Name() string { return OpRetrieveInputs }

func (*RetrieveInputs) Describe() Schema {
	return Schema{
		Description: "Copy input files named <prefix><YYYYMMDD><extension> whose date falls within start_date..end_date (inclusive) from the source directory into the destination directory.",
		Params: []Param{
			{Name: "source_directory", Type: TypeString, Description: "Directory holding the exported files.", Required: true},
			{Name: "start_date", Type: TypeDate, Description: "First date to include (YYYY-MM-DD).", Required: true},
			{Name: "end_date", Type: TypeDate, Description: "Last date to include (YYYY-MM-DD).", Required: true},
			{Name: "destination_directory", Type: TypeString, Description: "Directory to copy into.", Required: true},
			{Name: "file_prefix", Type: TypeString, Description: "File name prefix (default NCR)."},
			{Name: "file_extension", Type: TypeString, Description: "File extension (default .xlsx)."},
		},
	}
}

func (s *RetrieveInputs) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpRetrieveInputs)

	srcDir, err := args.String("source_directory")
	if err != nil {
		return nil, err
	}
	start, err := args.Date("start_date")
	if err != nil {
		return nil, err
	}
	end, err := args.Date("end_date")
	if err != nil {
		return nil, err
	}
	dstDir, err := args.String("destination_directory")
	if err != nil {
		return nil, err
	}
	prefix, err := args.OptString("file_prefix", defaultFilePrefix)
	if err != nil {
		return nil, err
	}
	ext, err := args.OptString("file_extension", defaultFileExtension)
	if err != nil {
		return nil, err
	}
	ext = normalizeExt(ext)

	if start.After(end) {
		return nil, &ArgError{Name: "start_date", Reason: fmt.Sprintf("%s is after end_date %s", start.Format(DateLayout), end.Format(DateLayout))}
	}

	matches, err := datedFiles(srcDir, prefix, ext, start, end)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	result := RetrieveResult{CopiedFiles: []string{}, DestinationDirectory: dstDir}
	for _, name := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := copyFile(filepath.Join(srcDir, name), filepath.Join(dstDir, name)); err != nil {
			return nil, fmt.Errorf("copy %s: %w", name, err)
		}
		result.CopiedFiles = append(result.CopiedFiles, name)
	}
	result.Count = len(result.CopiedFiles)

	log.Info("input files retrieved", "count", result.Count, "destination", dstDir)
	return result, nil
}

// datedFiles returns the names in dir matching prefix+YYYYMMDD+ext with a
// date inside [start, end]. Every candidate is parsed before anything is
// copied so a malformed name aborts the whole retrieval.
func datedFiles(dir, prefix, ext string, start, end time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(strings.ToLower(name), ext) {
			continue
		}
		if len(name) < len(prefix)+len(ext) {
			continue
		}

		stamp := name[len(prefix) : len(name)-len(ext)]
		d, err := time.Parse(fileDateLayout, stamp)
		if err != nil || len(stamp) != len(fileDateLayout) {
			if err == nil {
				err = fmt.Errorf("want %d digits", len(fileDateLayout))
			}
			return nil, &DateParseError{Source: name, Value: stamp, Err: err}
		}

		if d.Before(start) || d.After(end) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
