package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sample() *Table {
	t := New("AccountNumber", "State", "ContractDate", "ChargeOffDate", "DiaryNotes")
	t.AddRow([]string{"A1", "TX", "2020-01-01", "", "first"})
	t.AddRow([]string{"A2", "NY", "", "2021-07-15", "second"})
	return t
}

func TestAppendUnionsColumnsByName(t *testing.T) {
	a := New("AccountNumber", "State")
	a.AddRow([]string{"A1", "TX"})

	b := New("State", "AccountNumber", "DiaryNotes")
	b.AddRow([]string{"NY", "A2", "note"})

	a.Append(b)

	assert.Equal(t, []string{"AccountNumber", "State", "DiaryNotes"}, a.Columns)
	assert.Equal(t, [][]string{{"A1", "TX", ""}, {"A2", "NY", "note"}}, a.Rows)
}

func TestProjectKeepsRowsAndOrder(t *testing.T) {
	src := sample()

	p, err := src.Project("DiaryNotes", "AccountNumber")
	require.NoError(t, err)
	assert.Equal(t, []string{"DiaryNotes", "AccountNumber"}, p.Columns)
	assert.Equal(t, [][]string{{"first", "A1"}, {"second", "A2"}}, p.Rows)

	_, err = src.Project("AccountNumber", "Lcimp002Field")
	var missing *MissingColumnError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "Lcimp002Field", missing.Column)
}

func TestDropIncomplete(t *testing.T) {
	tests := []struct {
		name    string
		exempt  []string
		kept    []string
		dropped int
	}{
		{name: "drop any null", exempt: nil, kept: nil, dropped: 2},
		{name: "exempt base dates", exempt: []string{"ContractDate", "ChargeOffDate"}, kept: []string{"A1", "A2"}, dropped: 0},
		{name: "exempt one", exempt: []string{"ChargeOffDate"}, kept: []string{"A1"}, dropped: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := sample()
			got := tbl.DropIncomplete(tt.exempt)
			assert.Equal(t, tt.dropped, got)

			var accounts []string
			for i := range tbl.Rows {
				accounts = append(accounts, tbl.Value(i, "AccountNumber"))
			}
			assert.Equal(t, tt.kept, accounts)
		})
	}
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "sol.csv")
	require.NoError(t, Write(path, sample()))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, sample().Columns, got.Columns)
	assert.Equal(t, sample().Rows, got.Rows)

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	assert.Empty(t, leftovers)
}

func TestXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.xlsx")
	require.NoError(t, Write(path, sample()))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, sample().Columns, got.Columns)
	assert.Equal(t, sample().Rows, got.Rows)
}

func TestXLSXDateCellsReadAsCalendarDates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "NCR20240315.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"AccountNumber", "ContractDate", "ChargeOffDate", "Balance", "Due"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"00123", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), nil, 43831, 0.5}))

	custom := "yyyy/mm/dd"
	customStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &custom})
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(sheet, "C2", 44392))
	require.NoError(t, f.SetCellStyle(sheet, "C2", "C2", customStyle))

	timeStyle, err := f.NewStyle(&excelize.Style{NumFmt: 20})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "E2", "E2", timeStyle))

	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.Equal(t, []string{"00123", "2020-01-01", "2021-07-15", "43831", "0.5"}, got.Rows[0])
}

func TestDateFormatCode(t *testing.T) {
	assert.True(t, dateFormatCode("yyyy-mm-dd"))
	assert.True(t, dateFormatCode("[$-409]d-mmm-yy;@"))
	assert.False(t, dateFormatCode("hh:mm:ss"))
	assert.False(t, dateFormatCode(`0.00" days"`))
	assert.False(t, dateFormatCode("[Red]#,##0"))
}

func TestEmptyTableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, Write(path, New()))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "accounts.json"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	err = Write(filepath.Join(t.TempDir(), "accounts.txt"), sample())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2020-01-01", " 2020-01-01 ", "2020-01-01 00:00:00", "2020-01-01T00:00:00Z", "01/01/2020", "1/1/2020", "43831"} {
		got, err := ParseDate(in)
		if assert.NoError(t, err, in) {
			assert.True(t, want.Equal(got), "%q parsed as %s", in, got)
		}
	}

	for _, in := range []string{"", "yesterday", "2020-13-45"} {
		_, err := ParseDate(in)
		assert.Error(t, err, in)
	}

	d, err := ParseOptionalDate("")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sol.parquet")
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []SoLAccountRow{
		{SourceRow: 1, AccountNumber: "A1", State: "TX", ContractDate: "2020-01-01", BaseDateSource: "contract", PeriodYears: 4, SoLDate: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), ComputedAt: at},
		{SourceRow: 2, AccountNumber: "A2", State: "NY", ChargeOffDate: "2021-07-15", BaseDateSource: "charge_off", PeriodYears: 6, SoLDate: time.Date(2027, 7, 14, 0, 0, 0, 0, time.UTC), ComputedAt: at},
	}

	require.NoError(t, WriteParquet(path, rows, "zstd"))

	got, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A2", got[1].AccountNumber)
	assert.Equal(t, int32(6), got[1].PeriodYears)
	assert.True(t, rows[0].SoLDate.Equal(got[0].SoLDate))

	_, err = Codec("lz77")
	assert.Error(t, err)
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv")
	data := []byte("AccountNumber\nA1\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	sum, n, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.True(t, VerifyChecksum(data, sum))
}
