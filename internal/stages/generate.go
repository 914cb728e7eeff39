package stages

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/dataset"
)

// Downstream file shapes, each a fixed projection of the SoL dataset.
var (
	UtimphisColumns = []string{ColAccountNumber, ColSoLDate}
	ImdiaryColumns  = []string{ColAccountNumber, ColSoLDate, ColDiaryNotes}
	Lcimp002Columns = []string{ColAccountNumber, ColSoLDate, ColLcimp002}
)

// GenerateResult is the payload of generate_input_files.
type GenerateResult struct {
	UtimphisOutput   string `json:"utimphis_output"`
	ImdiaryOutput    string `json:"imdiary_output"`
	Lcimp002Output   string `json:"lcimp002_output"`
	RecordsProcessed int    `json:"records_processed"`
}

// RecordCount implements the dispatcher's record counter.
func (r GenerateResult) RecordCount() int { return r.RecordsProcessed }

// GenerateOutputs writes the three downstream input files as one unit.
type GenerateOutputs struct{}

func (*GenerateOutputs) Name() string { return OpGenerateOutputs }

func (*GenerateOutputs) Describe() Schema {
	return Schema{
		Description: "Project the SoL dataset into the utimphis, imdiary and lcimp002 input files. All three are written or none.",
		Params: []Param{
			{Name: "sol_data_file", Type: TypeString, Description: "SoL dataset produced by calculate_statute_of_limitations.", Required: true},
			{Name: "utimphis_output", Type: TypeString, Description: "Path for AccountNumber, SoLDate.", Required: true},
			{Name: "imdiary_output", Type: TypeString, Description: "Path for AccountNumber, SoLDate, DiaryNotes.", Required: true},
			{Name: "lcimp002_output", Type: TypeString, Description: "Path for AccountNumber, SoLDate, Lcimp002Field.", Required: true},
		},
	}
}

type projection struct {
	path    string
	columns []string
	table   *dataset.Table
	tmp     string
}

func (s *GenerateOutputs) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpGenerateOutputs)

	input, err := args.String("sol_data_file")
	if err != nil {
		return nil, err
	}

	var outs []*projection
	for _, p := range []struct {
		arg     string
		columns []string
	}{
		{"utimphis_output", UtimphisColumns},
		{"imdiary_output", ImdiaryColumns},
		{"lcimp002_output", Lcimp002Columns},
	} {
		path, err := args.String(p.arg)
		if err != nil {
			return nil, err
		}
		outs = append(outs, &projection{path: path, columns: p.columns})
	}

	notWritten := func() []string {
		names := make([]string, len(outs))
		for i, o := range outs {
			names[i] = o.path
		}
		return names
	}

	data, err := dataset.Read(input)
	if err != nil {
		return nil, &GenerationError{NotWritten: notWritten(), Err: err}
	}

	for _, o := range outs {
		if o.table, err = data.Project(o.columns...); err != nil {
			return nil, &GenerationError{NotWritten: notWritten(), Err: err}
		}
	}

	// Stage every file before publishing any of them.
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range outs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tmp, err := dataset.WriteTemp(o.path, o.table)
			if err != nil {
				return err
			}
			o.tmp = tmp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		discard(outs)
		return nil, &GenerationError{NotWritten: notWritten(), Err: err}
	}

	for i, o := range outs {
		if err := os.Rename(o.tmp, o.path); err != nil {
			// Withdraw what was already published so no partial set remains.
			for _, done := range outs[:i] {
				os.Remove(done.path)
			}
			discard(outs[i:])
			return nil, &GenerationError{NotWritten: notWritten(), Err: fmt.Errorf("publish %s: %w", o.path, err)}
		}
	}

	log.Info("downstream files generated", "records", data.Len())
	return GenerateResult{
		UtimphisOutput:   outs[0].path,
		ImdiaryOutput:    outs[1].path,
		Lcimp002Output:   outs[2].path,
		RecordsProcessed: data.Len(),
	}, nil
}

func discard(outs []*projection) {
	for _, o := range outs {
		if o.tmp != "" {
			os.Remove(o.tmp)
		}
	}
}
