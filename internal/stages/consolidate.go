package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/dataset"
)

// Account column names in the export files.
const (
	ColAccountNumber = "AccountNumber"
	ColState         = "State"
	ColContractDate  = "ContractDate"
	ColChargeOffDate = "ChargeOffDate"
	ColDiaryNotes    = "DiaryNotes"
	ColLcimp002      = "Lcimp002Field"
	ColSoLDate       = "SoLDate"
)

// DefaultNullExemptColumns may be empty without the row being dropped: an
// account needs only one of its base dates.
var DefaultNullExemptColumns = []string{ColContractDate, ColChargeOffDate}

const readConcurrency = 4

// ConsolidateResult is the payload of consolidate_input_files.
type ConsolidateResult struct {
	OutputFile        string `json:"output_file"`
	RecordsProcessed  int    `json:"records_processed"`
	FilesConsolidated int    `json:"files_consolidated"`
	RowsDropped       int    `json:"rows_dropped"`
}

// RecordCount implements the dispatcher's record counter.
func (r ConsolidateResult) RecordCount() int { return r.RecordsProcessed }

// Consolidate merges the retrieved export files into one dataset.
type Consolidate struct{}

func (*Consolidate) Name() string { return OpConsolidate }

func (*Consolidate) Describe() Schema {
	return Schema{
		Description: "Read every matching input file, concatenate the rows, drop rows with an empty field outside the null-exempt columns and write one combined file (.xlsx or .csv by extension). ContractDate and ChargeOffDate are exempt by default since an account needs only one base date.",
		Params: []Param{
			{Name: "input_directory", Type: TypeString, Description: "Directory holding the retrieved files.", Required: true},
			{Name: "output_file", Type: TypeString, Description: "Combined output path.", Required: true},
			{Name: "file_pattern", Type: TypeString, Description: "Glob selecting input files; overrides prefix and extension."},
			{Name: "file_prefix", Type: TypeString, Description: "Input file prefix (default NCR)."},
			{Name: "file_extension", Type: TypeString, Description: "Input file extension (default .xlsx)."},
			{Name: "null_exempt_columns", Type: TypeStringList, Description: "Columns allowed to be empty (default ContractDate, ChargeOffDate). Pass an empty list to drop every row with any empty field."},
		},
	}
}

func (s *Consolidate) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpConsolidate)

	inDir, err := args.String("input_directory")
	if err != nil {
		return nil, err
	}
	output, err := args.String("output_file")
	if err != nil {
		return nil, err
	}
	pattern, err := args.OptString("file_pattern", "")
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
	exempt := DefaultNullExemptColumns
	if args.Has("null_exempt_columns") {
		if exempt, err = args.Strings("null_exempt_columns"); err != nil {
			return nil, err
		}
	}

	files, err := inputFiles(inDir, output, pattern, prefix, normalizeExt(ext))
	if err != nil {
		return nil, err
	}

	tables := make([]*dataset.Table, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := dataset.Read(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", filepath.Base(path), err)
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	combined := dataset.New()
	for _, t := range tables {
		combined.Append(t)
	}
	dropped := combined.DropIncomplete(exempt)

	if err := dataset.Write(output, combined); err != nil {
		return nil, err
	}

	if dropped > 0 {
		log.Warn("dropped incomplete rows", "rows_dropped", dropped, "null_exempt_columns", exempt)
	}
	log.Info("input files consolidated", "files", len(files), "records", combined.Len(), "output", output)

	return ConsolidateResult{
		OutputFile:        output,
		RecordsProcessed:  combined.Len(),
		FilesConsolidated: len(files),
		RowsDropped:       dropped,
	}, nil
}

func inputFiles(dir, output, pattern, prefix, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	absOut, _ := filepath.Abs(output)

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()

		if pattern != "" {
			ok, err := filepath.Match(pattern, name)
			if err != nil {
				return nil, &ArgError{Name: "file_pattern", Reason: err.Error()}
			}
			if !ok {
				continue
			}
		} else if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(strings.ToLower(name), ext) {
			continue
		}

		path := filepath.Join(dir, name)
		if abs, _ := filepath.Abs(path); abs == absOut {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}
