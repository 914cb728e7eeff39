package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Supported file formats, chosen by extension.
const (
	FormatCSV  = ".csv"
	FormatXLSX = ".xlsx"
)

// ErrUnsupportedFormat is returned for extensions other than .csv and .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported file format")

func formatOf(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case FormatCSV, FormatXLSX:
		return ext, nil
	default:
		return "", fmt.Errorf("%s: %w (want .csv or .xlsx)", path, ErrUnsupportedFormat)
	}
}

// Read loads a table from a .csv or .xlsx file. The first row is the header.
// An empty file yields an empty table.
func Read(path string) (*Table, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var records [][]string
	switch format {
	case FormatCSV:
		records, err = readCSV(path)
	case FormatXLSX:
		records, err = readXLSX(path)
	}
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return New(), nil
	}

	t := New(trimHeader(records[0])...)
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		t.AddRow(rec)
	}
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	return records, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	sheet := sheets[0]
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s of %s: %w", sheet, path, err)
	}
	if err := normalizeDateCells(f, sheet, rows); err != nil {
		return nil, fmt.Errorf("read dates in %s: %w", path, err)
	}
	return rows, nil
}

// normalizeDateCells rewrites date-formatted serial cells in DateLayout.
// Raw values are read so number cells keep full precision; dates would
// otherwise surface as serials like 43831.
func normalizeDateCells(f *excelize.File, sheet string, rows [][]string) error {
	use1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		use1904 = *props.Date1904
	}

	isDate := map[int]bool{}
	for r, row := range rows {
		for c, v := range row {
			serial, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || serial <= 0 {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			styleID, err := f.GetCellStyle(sheet, cell)
			if err != nil {
				return err
			}
			dated, ok := isDate[styleID]
			if !ok {
				dated = dateStyle(f, styleID)
				isDate[styleID] = dated
			}
			if !dated {
				continue
			}
			t, err := excelize.ExcelDateToTime(serial, use1904)
			if err != nil {
				continue
			}
			rows[r][c] = FormatDate(t)
		}
	}
	return nil
}

// dateStyle reports whether the style shows its value as a calendar date.
// Time-only formats are not dates.
func dateStyle(f *excelize.File, styleID int) bool {
	if styleID == 0 {
		return false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return false
	}
	if style.CustomNumFmt != nil {
		return dateFormatCode(*style.CustomNumFmt)
	}
	switch n := style.NumFmt; {
	case n >= 14 && n <= 17, n == 22:
		return true
	case n >= 27 && n <= 36, n >= 50 && n <= 58:
		return true
	}
	return false
}

// dateFormatCode reports whether a custom number format has a year or day
// token outside quoted literals and bracketed sections.
func dateFormatCode(code string) bool {
	inQuote, inBracket := false, false
	for _, r := range code {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		case r == 'y' || r == 'Y' || r == 'd' || r == 'D':
			return true
		}
	}
	return false
}

func trimHeader(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
	}
	return out
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Write stores t at path atomically, in the format implied by its extension.
func Write(path string, t *Table) error {
	tmp, err := WriteTemp(path, t)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// WriteTemp writes t to a temporary file next to path and returns its name.
// The caller renames it into place or removes it.
func WriteTemp(path string, t *Table) (string, error) {
	format, err := formatOf(path)
	if err != nil {
		return "", err
	}

	var fn func(io.Writer) error
	switch format {
	case FormatCSV:
		fn = func(w io.Writer) error { return writeCSV(w, t) }
	case FormatXLSX:
		fn = func(w io.Writer) error { return writeXLSX(w, t) }
	}
	return writeTemp(path, fn)
}

func writeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if len(t.Columns) > 0 {
		if err := cw.Write(t.Columns); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func writeXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	write := func(rowNum int, cells []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		values := make([]any, len(cells))
		for i, v := range cells {
			values[i] = v
		}
		return f.SetSheetRow(sheet, cell, &values)
	}

	if len(t.Columns) > 0 {
		if err := write(1, t.Columns); err != nil {
			return err
		}
	}
	for i, row := range t.Rows {
		if err := write(i+2, row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// WriteFileAtomic writes through fn to a temp file and renames it to path.
func WriteFileAtomic(path string, fn func(io.Writer) error) error {
	tmp, err := writeTemp(path, fn)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func writeTemp(path string, fn func(io.Writer) error) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmp := f.Name()

	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return tmp, nil
}
