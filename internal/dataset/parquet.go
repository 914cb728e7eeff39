package dataset

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// SoLAccountRow is one account in the typed SoL snapshot.
type SoLAccountRow struct {
	// Source position (1-based data row in the consolidated file)
	SourceRow int64 `parquet:"source_row"`

	AccountNumber string `parquet:"account_number"`
	State         string `parquet:"state"`

	// Input dates, empty when the cell was null
	ContractDate  string `parquet:"contract_date,optional"`
	ChargeOffDate string `parquet:"charge_off_date,optional"`

	// Rule application
	BaseDateSource string    `parquet:"base_date_source"` // "contract" | "charge_off"
	PeriodYears    int32     `parquet:"period_years"`
	SoLDate        time.Time `parquet:"sol_date,timestamp(millisecond)"`

	ComputedAt time.Time `parquet:"computed_at,timestamp(millisecond)"`
}

// SchemaVersion returns the version of the snapshot schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"

// Codec resolves a compression name ("snappy" | "zstd" | "none").
func Codec(name string) (compress.Codec, error) {
	switch name {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// WriteParquet stores rows at path atomically.
func WriteParquet(path string, rows []SoLAccountRow, compression string) error {
	codec, err := Codec(compression)
	if err != nil {
		return err
	}

	return WriteFileAtomic(path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[SoLAccountRow](w, parquet.Compression(codec))
		if _, err := pw.Write(rows); err != nil {
			pw.Close()
			return fmt.Errorf("write rows: %w", err)
		}
		return pw.Close()
	})
}

// ReadParquet loads a snapshot written by WriteParquet.
func ReadParquet(path string) ([]SoLAccountRow, error) {
	rows, err := parquet.ReadFile[SoLAccountRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
