package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/audit"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/watermark"
)

var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func testDeps(t *testing.T) Deps {
	t.Helper()
	store, err := watermark.OpenFile(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)
	return Deps{Store: store, Now: func() time.Time { return fixedNow }}
}

type brokenStore struct{ watermark.Store }

func (brokenStore) LastProcessedDate(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, &watermark.StorageError{Op: "query", Backend: "test", Err: errors.New("disk unavailable")}
}

type scriptedPrompter []string

func (p *scriptedPrompter) Prompt(context.Context, string) (string, error) {
	if len(*p) == 0 {
		return "", errors.New("no more answers")
	}
	answer := (*p)[0]
	*p = (*p)[1:]
	return answer, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// listShare lists a fileblob directory without its attribute sidecars.
func listShare(t *testing.T, dir string) []string {
	t.Helper()
	var names []string
	for _, n := range listDir(t, dir) {
		if !strings.HasSuffix(n, ".attrs") {
			names = append(names, n)
		}
	}
	return names
}

// --- determine_processing_scope ---

func TestScopeFromWatermark(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.Store.AppendHistory(ctx, watermark.Record{ProcessingDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)}))

	out, err := (&DetermineScope{deps: deps}).Run(ctx, Args{})
	require.NoError(t, err)
	assert.Equal(t, Window{StartDate: "2024-03-11", EndDate: "2024-03-15", Source: "watermark"}, out)
}

func TestScopeWithoutWatermarkNeedsDates(t *testing.T) {
	op := &DetermineScope{deps: testDeps(t)}

	_, err := op.Run(context.Background(), Args{})
	var scopeErr *ScopeError
	require.ErrorAs(t, err, &scopeErr)
	assert.Equal(t, errkind.Validation, errkind.Classify(err))

	out, err := op.Run(context.Background(), Args{"start_date": "2024-01-01", "end_date": "2024-01-31"})
	require.NoError(t, err)
	assert.Equal(t, Window{StartDate: "2024-01-01", EndDate: "2024-01-31", Source: "arguments"}, out)
}

func TestScopeForceUserInputIgnoresWatermark(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.Store.AppendHistory(ctx, watermark.Record{ProcessingDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)}))

	out, err := (&DetermineScope{deps: deps}).Run(ctx, Args{"force_user_input": true, "start_date": "2024-02-01", "end_date": "2024-02-05"})
	require.NoError(t, err)
	assert.Equal(t, "arguments", out.(Window).Source)
	assert.Equal(t, "2024-02-01", out.(Window).StartDate)
}

func TestScopeStorageFailure(t *testing.T) {
	op := &DetermineScope{deps: Deps{Store: brokenStore{}, Now: func() time.Time { return fixedNow }}}

	_, err := op.Run(context.Background(), Args{"start_date": "2024-01-01", "end_date": "2024-01-02"})
	var scopeErr *ScopeError
	require.ErrorAs(t, err, &scopeErr)
	var storageErr *watermark.StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.Equal(t, errkind.Resource, errkind.Classify(err))
}

func TestScopeRejectsInvertedWindow(t *testing.T) {
	op := &DetermineScope{deps: testDeps(t)}
	_, err := op.Run(context.Background(), Args{"start_date": "2024-02-01", "end_date": "2024-01-01"})
	var scopeErr *ScopeError
	assert.ErrorAs(t, err, &scopeErr)
}

func TestScopeAlreadyUpToDate(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	require.NoError(t, deps.Store.AppendHistory(ctx, watermark.Record{ProcessingDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}))

	_, err := (&DetermineScope{deps: deps}).Run(ctx, Args{})
	var scopeErr *ScopeError
	require.ErrorAs(t, err, &scopeErr)
	assert.Contains(t, err.Error(), "nothing to process")
}

func TestScopeFromPrompter(t *testing.T) {
	deps := testDeps(t)
	answers := scriptedPrompter{"2024-01-01\n", " 2024-01-07"}
	deps.Prompter = &answers

	out, err := (&DetermineScope{deps: deps}).Run(context.Background(), Args{})
	require.NoError(t, err)
	assert.Equal(t, Window{StartDate: "2024-01-01", EndDate: "2024-01-07", Source: "prompt"}, out)
}

// --- clean_workspace ---

func TestCleanWorkspace(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "work")
	archive := filepath.Join(work, "archive")

	writeFile(t, filepath.Join(work, "NCR20240101.xlsx"), "x")
	writeFile(t, filepath.Join(work, "sol.CSV"), "x")
	writeFile(t, filepath.Join(work, "notes.txt"), "x")
	writeFile(t, filepath.Join(archive, "archive_20240101000000", "old.csv"), "x")

	out, err := (&CleanWorkspace{deps: testDeps(t)}).Run(context.Background(), Args{
		"working_directory": work,
		"archive_directory": archive,
		"file_types":        []any{"xlsx", ".csv"},
	})
	require.NoError(t, err)

	res := out.(ArchiveResult)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, filepath.Join(archive, "archive_20240315093000"), res.ArchiveFolder)
	assert.ElementsMatch(t, []string{"NCR20240101.xlsx", "sol.CSV"}, res.ArchivedFiles)

	assert.Equal(t, []string{"archive", "notes.txt"}, listDir(t, work))
	assert.Equal(t, []string{"NCR20240101.xlsx", "sol.CSV"}, listDir(t, res.ArchiveFolder))
	assert.FileExists(t, filepath.Join(archive, "archive_20240101000000", "old.csv"))
}

func TestCleanWorkspaceNeverArchivesTheArchive(t *testing.T) {
	archive := t.TempDir()
	writeFile(t, filepath.Join(archive, "old.csv"), "x")

	out, err := (&CleanWorkspace{deps: testDeps(t)}).Run(context.Background(), Args{
		"working_directory": archive,
		"archive_directory": archive,
		"file_types":        []string{"csv"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.(ArchiveResult).Count)
	assert.FileExists(t, filepath.Join(archive, "old.csv"))
}

// --- retrieve_new_input_files ---

func TestRetrieveInclusiveWindowAndIdempotent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "exports")
	dst := filepath.Join(root, "work")
	for _, name := range []string{"NCR20240131.xlsx", "NCR20240201.xlsx", "NCR20240215.xlsx", "NCR20240229.xlsx", "NCR20240301.xlsx", "other.xlsx", "NCR20240210.csv"} {
		writeFile(t, filepath.Join(src, name), name)
	}

	args := Args{
		"source_directory":      src,
		"start_date":            "2024-02-01",
		"end_date":              "2024-02-29",
		"destination_directory": dst,
	}
	want := []string{"NCR20240201.xlsx", "NCR20240215.xlsx", "NCR20240229.xlsx"}

	for i := 0; i < 2; i++ {
		out, err := (&RetrieveInputs{}).Run(context.Background(), args)
		require.NoError(t, err)
		assert.Equal(t, want, out.(RetrieveResult).CopiedFiles)
		assert.Equal(t, want, listDir(t, dst), "run %d", i+1)
	}

	got, err := os.ReadFile(filepath.Join(dst, "NCR20240215.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "NCR20240215.xlsx", string(got))
}

func TestRetrieveMalformedDateFails(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "exports")
	dst := filepath.Join(root, "work")
	writeFile(t, filepath.Join(src, "NCR20240201.xlsx"), "ok")
	writeFile(t, filepath.Join(src, "NCR2024-02-x.xlsx"), "bad")

	_, err := (&RetrieveInputs{}).Run(context.Background(), Args{
		"source_directory":      src,
		"start_date":            "2024-02-01",
		"end_date":              "2024-02-29",
		"destination_directory": dst,
	})

	var dpe *DateParseError
	require.ErrorAs(t, err, &dpe)
	assert.Equal(t, "NCR2024-02-x.xlsx", dpe.Source)
	assert.Equal(t, errkind.Domain, errkind.Classify(err))
	assert.NoDirExists(t, dst)
}

// --- consolidate_input_files ---

func TestConsolidateUnionsAndDropsIncompleteRows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "NCR20240201.csv"),
		"AccountNumber,State,ContractDate,ChargeOffDate,DiaryNotes\n"+
			"A1,TX,2020-01-01,,note one\n"+
			"A2,NY,,2021-07-15,note two\n")
	writeFile(t, filepath.Join(dir, "NCR20240202.csv"),
		"State,AccountNumber,ContractDate,ChargeOffDate,DiaryNotes,Lcimp002Field\n"+
			"CA,A3,2019-05-05,2019-09-09,,x\n"+
			"FL,A4,2018-01-01,,note four,y\n")
	writeFile(t, filepath.Join(dir, "unrelated.csv"), "AccountNumber\nZ9\n")

	output := filepath.Join(dir, "out", "consolidated.csv")
	out, err := (&Consolidate{}).Run(context.Background(), Args{
		"input_directory": dir,
		"output_file":     output,
		"file_extension":  ".csv",
	})
	require.NoError(t, err)

	res := out.(ConsolidateResult)
	assert.Equal(t, 2, res.FilesConsolidated)
	// A1 and A2 lack Lcimp002Field after the union, A3 lacks DiaryNotes.
	assert.Equal(t, 3, res.RowsDropped)
	assert.Equal(t, 1, res.RecordsProcessed)

	table, err := dataset.Read(output)
	require.NoError(t, err)
	assert.Equal(t, []string{"AccountNumber", "State", "ContractDate", "ChargeOffDate", "DiaryNotes", "Lcimp002Field"}, table.Columns)
	assert.Equal(t, [][]string{{"A4", "FL", "2018-01-01", "", "note four", "y"}}, table.Rows)
}

func TestConsolidateKeepsRowsWithOneBaseDate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "NCR20240201.csv"),
		"AccountNumber,State,ContractDate,ChargeOffDate\n"+
			"A1,TX,2020-01-01,\n"+
			"A2,NY,,2021-07-15\n"+
			"A3,,2020-01-01,\n")

	output := filepath.Join(dir, "consolidated.xlsx")
	out, err := (&Consolidate{}).Run(context.Background(), Args{
		"input_directory": dir,
		"output_file":     output,
		"file_extension":  "csv",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(ConsolidateResult).RecordsProcessed)

	// An explicit empty exemption list drops any row with a null.
	out, err = (&Consolidate{}).Run(context.Background(), Args{
		"input_directory":     dir,
		"output_file":         output,
		"file_pattern":        "NCR*.csv",
		"null_exempt_columns": []any{},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.(ConsolidateResult).RecordsProcessed)
}

func TestConsolidateWritesWorkbookDatesAsCalendarDates(t *testing.T) {
	dir := t.TempDir()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"AccountNumber", "State", "ContractDate", "ChargeOffDate"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"00123", "TX", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), nil}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"00124", "TX", nil, time.Date(2021, 7, 15, 0, 0, 0, 0, time.UTC)}))
	require.NoError(t, f.SaveAs(filepath.Join(dir, "NCR20240314.xlsx")))
	require.NoError(t, f.Close())

	consolidated := filepath.Join(dir, "work", "consolidated.xlsx")
	_, err := (&Consolidate{}).Run(context.Background(), Args{
		"input_directory": dir,
		"output_file":     consolidated,
	})
	require.NoError(t, err)

	table, err := dataset.Read(consolidated)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"00123", "TX", "2020-01-01", ""},
		{"00124", "TX", "", "2021-07-15"},
	}, table.Rows)

	solData := filepath.Join(dir, "work", "sol_data.xlsx")
	_, err = (&ApplySoL{deps: testDeps(t)}).Run(context.Background(), Args{
		"input_file":      consolidated,
		"output_file":     solData,
		"state_laws_file": writeLaws(t, dir),
	})
	require.NoError(t, err)

	table, err = dataset.Read(solData)
	require.NoError(t, err)
	assert.Equal(t, []string{"00123", "TX", "2020-01-01", "", "2023-12-31"}, table.Rows[0])
}

func TestConsolidateEmptyInputYieldsEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "consolidated.xlsx")

	out, err := (&Consolidate{}).Run(context.Background(), Args{"input_directory": dir, "output_file": output})
	require.NoError(t, err)
	assert.Equal(t, ConsolidateResult{OutputFile: output}, out)
	assert.FileExists(t, output)
}

// --- calculate_statute_of_limitations ---

func writeLaws(t *testing.T, dir string) string {
	path := filepath.Join(dir, "state_laws.json")
	writeFile(t, path, `{"TX": 4, "NY": 6, "CA": 4}`)
	return path
}

func TestApplySoL(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "consolidated.csv")
	writeFile(t, input,
		"AccountNumber,State,ContractDate,ChargeOffDate,DiaryNotes\n"+
			"A1,TX,2020-01-01,2022-06-01,n1\n"+
			"A2,NY,,2021-07-15,n2\n"+
			"A3,tx,03/01/2019,,n3\n")

	output := filepath.Join(dir, "sol.csv")
	snapshot := filepath.Join(dir, "sol.parquet")
	out, err := (&ApplySoL{deps: testDeps(t)}).Run(context.Background(), Args{
		"input_file":      input,
		"output_file":     output,
		"state_laws_file": writeLaws(t, dir),
		"parquet_output":  snapshot,
	})
	require.NoError(t, err)
	assert.Equal(t, SoLResult{OutputFile: output, RecordsProcessed: 3, ParquetOutput: snapshot}, out)

	table, err := dataset.Read(output)
	require.NoError(t, err)
	require.Equal(t, ColSoLDate, table.Columns[len(table.Columns)-1])
	// Contract date wins over charge-off; 365-day years.
	assert.Equal(t, "2023-12-31", table.Value(0, ColSoLDate))
	assert.Equal(t, "2027-07-14", table.Value(1, ColSoLDate))
	assert.Equal(t, "2023-02-28", table.Value(2, ColSoLDate))

	rows, err := dataset.ReadParquet(snapshot)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "contract", rows[0].BaseDateSource)
	assert.Equal(t, "charge_off", rows[1].BaseDateSource)
	assert.Equal(t, int32(6), rows[1].PeriodYears)
}

func TestApplySoLAbortsOnFailingRow(t *testing.T) {
	tests := []struct {
		name string
		row  string
		kind errkind.Kind
	}{
		{name: "unknown state", row: "A2,ZZ,2020-01-01,", kind: errkind.Domain},
		{name: "no base date", row: "A2,TX,,", kind: errkind.Domain},
		{name: "bad date", row: "A2,TX,someday,", kind: errkind.Domain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := filepath.Join(dir, "consolidated.csv")
			writeFile(t, input, "AccountNumber,State,ContractDate,ChargeOffDate\nA1,TX,2020-01-01,\n"+tt.row+"\n")
			output := filepath.Join(dir, "sol.csv")

			_, err := (&ApplySoL{deps: testDeps(t)}).Run(context.Background(), Args{
				"input_file":      input,
				"output_file":     output,
				"state_laws_file": writeLaws(t, dir),
			})

			var rowErr *RowError
			require.ErrorAs(t, err, &rowErr)
			assert.Equal(t, 2, rowErr.Row)
			assert.Equal(t, "A2", rowErr.AccountNumber)
			assert.Equal(t, tt.kind, errkind.Classify(err))
			assert.NoFileExists(t, output, "partial SoL output must not be written")
		})
	}
}

func TestApplySoLBadRuleFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "consolidated.csv")
	writeFile(t, input, "AccountNumber,State,ContractDate,ChargeOffDate\n")

	_, err := (&ApplySoL{deps: testDeps(t)}).Run(context.Background(), Args{
		"input_file":      input,
		"output_file":     filepath.Join(dir, "sol.csv"),
		"state_laws_file": filepath.Join(dir, "missing.json"),
	})
	var rulesErr *RulesError
	require.ErrorAs(t, err, &rulesErr)
	assert.Equal(t, errkind.Resource, errkind.Classify(err))
}

// --- generate_input_files ---

func solDataset(t *testing.T, dir string) string {
	path := filepath.Join(dir, "sol.csv")
	writeFile(t, path,
		"AccountNumber,State,ContractDate,ChargeOffDate,DiaryNotes,Lcimp002Field,SoLDate\n"+
			"A1,TX,2020-01-01,,n1,L1,2023-12-31\n"+
			"A2,NY,,2021-07-15,n2,L2,2027-07-14\n")
	return path
}

func TestGenerateOutputsAreProjections(t *testing.T) {
	dir := t.TempDir()
	input := solDataset(t, dir)
	args := Args{
		"sol_data_file":   input,
		"utimphis_output": filepath.Join(dir, "out", "utimphis.csv"),
		"imdiary_output":  filepath.Join(dir, "out", "imdiary.csv"),
		"lcimp002_output": filepath.Join(dir, "out", "lcimp002.csv"),
	}

	out, err := (&GenerateOutputs{}).Run(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, 2, out.(GenerateResult).RecordsProcessed)

	source, err := dataset.Read(input)
	require.NoError(t, err)

	for arg, cols := range map[string][]string{
		"utimphis_output": UtimphisColumns,
		"imdiary_output":  ImdiaryColumns,
		"lcimp002_output": Lcimp002Columns,
	} {
		got, err := dataset.Read(args[arg].(string))
		require.NoError(t, err, arg)
		want, err := source.Project(cols...)
		require.NoError(t, err)
		assert.Equal(t, want.Columns, got.Columns, arg)
		assert.Equal(t, want.Rows, got.Rows, arg)
	}
	assert.Equal(t, []string{"imdiary.csv", "lcimp002.csv", "utimphis.csv"}, listDir(t, filepath.Join(dir, "out")))
}

func TestGenerateOutputsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	input := solDataset(t, dir)
	utimphis := filepath.Join(dir, "utimphis.csv")
	imdiary := filepath.Join(dir, "imdiary.csv")
	// A directory in place of the last output makes its publish step fail
	// after the first two files were renamed into place.
	lcimp002 := filepath.Join(dir, "lcimp002.csv")
	require.NoError(t, os.MkdirAll(filepath.Join(lcimp002, "occupied"), 0755))

	_, err := (&GenerateOutputs{}).Run(context.Background(), Args{
		"sol_data_file":   input,
		"utimphis_output": utimphis,
		"imdiary_output":  imdiary,
		"lcimp002_output": lcimp002,
	})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, []string{utimphis, imdiary, lcimp002}, genErr.NotWritten)
	assert.NoFileExists(t, utimphis)
	assert.NoFileExists(t, imdiary)

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	assert.Empty(t, leftovers)
}

func TestGenerateOutputsMissingColumn(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "sol.csv")
	writeFile(t, input, "AccountNumber,SoLDate,DiaryNotes\nA1,2023-12-31,n\n")

	_, err := (&GenerateOutputs{}).Run(context.Background(), Args{
		"sol_data_file":   input,
		"utimphis_output": filepath.Join(dir, "u.csv"),
		"imdiary_output":  filepath.Join(dir, "i.csv"),
		"lcimp002_output": filepath.Join(dir, "l.csv"),
	})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	var missing *dataset.MissingColumnError
	assert.ErrorAs(t, err, &missing)
	assert.Equal(t, errkind.Domain, errkind.Classify(err))
	assert.NoFileExists(t, filepath.Join(dir, "u.csv"))
}

// --- process_input_files ---

func processor(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acuthin.sh")
	writeFile(t, path, "#!/bin/sh\n"+body+"\n")
	require.NoError(t, os.Chmod(path, 0755))
	return path
}

func TestProcessInputs(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "acuthin.log")
	exe := processor(t, `echo "processing $1 $2 $3"; echo "warning" >&2`)

	out, err := (&ProcessInputs{}).Run(context.Background(), Args{
		"utimphis_file": "u.csv",
		"imdiary_file":  "i.csv",
		"lcimp002_file": "l.csv",
		"acuthin_path":  exe,
		"log_file":      logPath,
	})
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{LogFile: logPath, Status: "success"}, out)

	log, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "processing u.csv i.csv l.csv")
	assert.Contains(t, string(log), "warning")
}

func TestProcessInputsNonZeroExit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "acuthin.log")
	exe := processor(t, `echo "bad record" >&2; exit 3`)

	_, err := (&ProcessInputs{}).Run(context.Background(), Args{
		"utimphis_file": "u.csv",
		"imdiary_file":  "i.csv",
		"lcimp002_file": "l.csv",
		"acuthin_path":  exe,
		"log_file":      logPath,
	})

	var procErr *ExternalProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 3, procErr.ExitCode)
	assert.Equal(t, logPath, procErr.LogPath)
	assert.Equal(t, errkind.Resource, errkind.Classify(err))

	log, _ := os.ReadFile(logPath)
	assert.Contains(t, string(log), "bad record")
}

func TestProcessInputsMissingExecutable(t *testing.T) {
	dir := t.TempDir()
	_, err := (&ProcessInputs{}).Run(context.Background(), Args{
		"utimphis_file": "u.csv",
		"imdiary_file":  "i.csv",
		"lcimp002_file": "l.csv",
		"acuthin_path":  filepath.Join(dir, "nope"),
		"log_file":      filepath.Join(dir, "acuthin.log"),
	})
	var procErr *ExternalProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, -1, procErr.ExitCode)
}

// --- copy_to_lcs_data ---

func TestDistribute(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "out")
	share := filepath.Join(root, "share")
	writeFile(t, filepath.Join(src, "utimphis.csv"), "AccountNumber,SoLDate\nA1,2023-12-31\n")
	writeFile(t, filepath.Join(src, "imdiary.csv"), "AccountNumber,SoLDate,DiaryNotes\nA1,2023-12-31,n\n")

	out, err := (&Distribute{deps: testDeps(t)}).Run(context.Background(), Args{
		"source_directory": src,
		"destination_url":  share,
		"files_to_copy":    []any{"utimphis.csv", "imdiary.csv"},
		"write_manifest":   true,
	})
	require.NoError(t, err)

	res := out.(DistributeResult)
	assert.Len(t, res.CopiedFiles, 2)
	assert.True(t, strings.HasSuffix(res.Manifest, "_manifest.json"))
	assert.Equal(t, []string{"_manifest.json", "imdiary.csv", "utimphis.csv"}, listShare(t, share))

	got, err := os.ReadFile(filepath.Join(share, "utimphis.csv"))
	require.NoError(t, err)
	assert.Equal(t, "AccountNumber,SoLDate\nA1,2023-12-31\n", string(got))
}

func TestDistributeRecordsAuditEvent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "out")
	auditDir := filepath.Join(root, "audit")
	writeFile(t, filepath.Join(src, "utimphis.csv"), "AccountNumber,SoLDate\nA1,2023-12-31\n")

	emitter, err := audit.NewFileEmitter(auditDir)
	require.NoError(t, err)
	deps := testDeps(t)
	deps.Audit = emitter

	dist := &Distribute{deps: deps}
	for i := 0; i < 2; i++ {
		out, err := dist.Run(context.Background(), Args{
			"source_directory": src,
			"destination_url":  filepath.Join(root, "share"),
			"files_to_copy":    []string{"utimphis.csv"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, out.(DistributeResult).AuditEvent)
	}

	events, err := audit.ReadEvents(auditDir)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Batch.FileCount)
	assert.Contains(t, events[0].Files["utimphis.csv"].Checksum, "sha256:")

	n, err := audit.VerifyDir(auditDir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDistributeReportsPartialSuccess(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "out")
	share := filepath.Join(root, "share")
	writeFile(t, filepath.Join(src, "utimphis.csv"), "a")
	writeFile(t, filepath.Join(src, "lcimp002.csv"), "c")

	_, err := (&Distribute{deps: testDeps(t)}).Run(context.Background(), Args{
		"source_directory": src,
		"destination_url":  share,
		"files_to_copy":    []string{"utimphis.csv", "imdiary.csv", "lcimp002.csv"},
	})

	var distErr *DistributionError
	require.ErrorAs(t, err, &distErr)
	assert.Equal(t, []string{"utimphis.csv"}, distErr.Copied)
	assert.Equal(t, "imdiary.csv", distErr.Failed)
	assert.Equal(t, []string{"utimphis.csv"}, listShare(t, share), "copies after the failure must not run")
}

func TestDistributeZstd(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "out")
	share := filepath.Join(root, "share")
	writeFile(t, filepath.Join(src, "utimphis.csv"), strings.Repeat("A1,2023-12-31\n", 100))

	_, err := (&Distribute{deps: testDeps(t)}).Run(context.Background(), Args{
		"source_directory": src,
		"destination_url":  "file://" + filepath.ToSlash(share) + "?create_dir=true",
		"files_to_copy":    []string{"utimphis.csv"},
		"compression":      "zstd",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"utimphis.csv.zst"}, listShare(t, share))

	_, err = (&Distribute{deps: testDeps(t)}).Run(context.Background(), Args{
		"source_directory": src,
		"destination_url":  share,
		"files_to_copy":    []string{"utimphis.csv"},
		"compression":      "brotli",
	})
	var argErr *ArgError
	assert.ErrorAs(t, err, &argErr)
}

// --- update_processing_history ---

func TestUpdateHistoryAdvancesWatermark(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()

	out, err := (&UpdateHistory{deps: deps}).Run(ctx, Args{
		"processing_date":   "2024-03-14",
		"files_processed":   float64(3),
		"records_processed": float64(120),
		"summary":           "weekly batch",
	})
	require.NoError(t, err)
	assert.Equal(t, HistoryResult{Status: "success", ProcessingDate: "2024-03-14"}, out)

	window, err := (&DetermineScope{deps: deps}).Run(ctx, Args{})
	require.NoError(t, err)
	assert.Equal(t, Window{StartDate: "2024-03-15", EndDate: "2024-03-15", Source: "watermark"}, window)

	_, err = (&UpdateHistory{deps: deps}).Run(ctx, Args{
		"processing_date":   "2024-03-14",
		"files_processed":   1,
		"records_processed": 1,
		"summary":           "again",
	})
	assert.ErrorIs(t, err, watermark.ErrAlreadyRecorded)
}

func TestCatalogNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, op := range Catalog(Deps{}) {
		assert.False(t, seen[op.Name()], "duplicate %s", op.Name())
		seen[op.Name()] = true
		for _, p := range op.Describe().Params {
			assert.NotEmpty(t, p.Type, "%s.%s", op.Name(), p.Name)
		}
	}
	assert.Len(t, seen, 9)
}

func TestConsolidateDescribesNullExemptDefault(t *testing.T) {
	schema := (&Consolidate{}).Describe()
	assert.Contains(t, schema.Description, "ContractDate and ChargeOffDate are exempt by default")

	var param Param
	for _, p := range schema.Params {
		if p.Name == "null_exempt_columns" {
			param = p
		}
	}
	assert.Equal(t, TypeStringList, param.Type)
	assert.Contains(t, param.Description, "empty list")
}
