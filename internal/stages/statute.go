package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/sol"
)

// SoLResult is the payload of calculate_statute_of_limitations.
type SoLResult struct {
	OutputFile       string `json:"output_file"`
	RecordsProcessed int    `json:"records_processed"`
	ParquetOutput    string `json:"parquet_output,omitempty"`
}

// RecordCount implements the dispatcher's record counter.
func (r SoLResult) RecordCount() int { return r.RecordsProcessed }

// ApplySoL computes the statute-of-limitations date for every account.
type ApplySoL struct {
	deps Deps
}

func (*ApplySoL) Name() string { return OpApplySoL }

func (*ApplySoL) Describe() Schema {
	return Schema{
		Description: "Compute the statute of limitations date for every account from its contract date (or charge-off date) and the state's limitation period, and write the accounts with a SoLDate column. Any failing row aborts the whole file.",
		Params: []Param{
			{Name: "input_file", Type: TypeString, Description: "Consolidated accounts file.", Required: true},
			{Name: "output_file", Type: TypeString, Description: "Output path for the SoL dataset.", Required: true},
			{Name: "state_laws_file", Type: TypeString, Description: "JSON or YAML mapping of state code to limitation period in years.", Required: true},
			{Name: "parquet_output", Type: TypeString, Description: "Optional typed Parquet snapshot path."},
			{Name: "parquet_compression", Type: TypeString, Description: "snappy (default), zstd or none."},
		},
	}
}

func (s *ApplySoL) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpApplySoL)

	input, err := args.String("input_file")
	if err != nil {
		return nil, err
	}
	output, err := args.String("output_file")
	if err != nil {
		return nil, err
	}
	lawsFile, err := args.String("state_laws_file")
	if err != nil {
		return nil, err
	}
	parquetOut, err := args.OptString("parquet_output", "")
	if err != nil {
		return nil, err
	}
	compression, err := args.OptString("parquet_compression", "snappy")
	if err != nil {
		return nil, err
	}
	if parquetOut != "" {
		if _, err := dataset.Codec(compression); err != nil {
			return nil, &ArgError{Name: "parquet_compression", Reason: err.Error()}
		}
	}

	rules, err := sol.LoadRules(lawsFile)
	if err != nil {
		return nil, &RulesError{Path: lawsFile, Err: err}
	}

	table, err := dataset.Read(input)
	if err != nil {
		return nil, err
	}

	snapshot, err := computeAll(table, rules, s.deps)
	if err != nil {
		return nil, err
	}

	solDates := make([]string, len(snapshot))
	for i, row := range snapshot {
		solDates[i] = dataset.FormatDate(row.SoLDate)
	}
	if idx := table.Index(ColSoLDate); idx >= 0 {
		for i := range table.Rows {
			table.Rows[i][idx] = solDates[i]
		}
	} else {
		table.AddColumn(ColSoLDate, func(i int) string { return solDates[i] })
	}

	if err := dataset.Write(output, table); err != nil {
		return nil, err
	}

	result := SoLResult{OutputFile: output, RecordsProcessed: table.Len()}
	if parquetOut != "" {
		if err := dataset.WriteParquet(parquetOut, snapshot, compression); err != nil {
			return nil, fmt.Errorf("write parquet snapshot: %w", err)
		}
		result.ParquetOutput = parquetOut
	}

	log.Info("SoL calculation completed", "records", result.RecordsProcessed, "states", rules.Len(), "output", output)
	return result, nil
}

// computeAll applies the rule engine to every row, stopping at the first
// failure.
func computeAll(table *dataset.Table, rules *sol.Rules, deps Deps) ([]dataset.SoLAccountRow, error) {
	if table.Len() > 0 {
		for _, col := range []string{ColAccountNumber, ColState, ColContractDate, ColChargeOffDate} {
			if table.Index(col) < 0 {
				return nil, &dataset.MissingColumnError{Column: col, Source: "SoL input"}
			}
		}
	}

	computedAt := deps.now().UTC()
	rows := make([]dataset.SoLAccountRow, 0, table.Len())

	for i := range table.Rows {
		account, err := accountAt(table, i)
		if err != nil {
			return nil, &RowError{Row: i + 1, AccountNumber: table.Value(i, ColAccountNumber), Err: err}
		}

		solDate, err := sol.ComputeSoLDate(account, rules)
		if err != nil {
			return nil, &RowError{Row: i + 1, AccountNumber: account.AccountNumber, Err: err}
		}

		years, _ := rules.Period(account.StateCode)
		source := "contract"
		if account.ContractDate == nil {
			source = "charge_off"
		}

		rows = append(rows, dataset.SoLAccountRow{
			SourceRow:      int64(i + 1),
			AccountNumber:  account.AccountNumber,
			State:          account.StateCode,
			ContractDate:   optionalDate(account.ContractDate),
			ChargeOffDate:  optionalDate(account.ChargeOffDate),
			BaseDateSource: source,
			PeriodYears:    int32(years),
			SoLDate:        solDate,
			ComputedAt:     computedAt,
		})
	}
	return rows, nil
}

func accountAt(table *dataset.Table, i int) (sol.Account, error) {
	account := sol.Account{
		AccountNumber: table.Value(i, ColAccountNumber),
		StateCode:     table.Value(i, ColState),
	}

	var err error
	if account.ContractDate, err = cellDate(table, i, ColContractDate); err != nil {
		return account, err
	}
	if account.ChargeOffDate, err = cellDate(table, i, ColChargeOffDate); err != nil {
		return account, err
	}
	return account, nil
}

func cellDate(table *dataset.Table, i int, col string) (*time.Time, error) {
	v := table.Value(i, col)
	d, err := dataset.ParseOptionalDate(v)
	if err != nil {
		return nil, &DateParseError{Source: col, Value: v, Err: err}
	}
	return d, nil
}

func optionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return dataset.FormatDate(*t)
}
