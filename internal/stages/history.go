package stages

import (
	"context"
	"errors"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/watermark"
)

// HistoryResult is the payload of update_processing_history.
type HistoryResult struct {
	Status         string `json:"status"`
	ProcessingDate string `json:"processing_date"`
}

// UpdateHistory appends the completed run to the watermark store.
type UpdateHistory struct {
	deps Deps
}

func (*UpdateHistory) Name() string { return OpUpdateHistory }

func (*UpdateHistory) Describe() Schema {
	return Schema{
		Description: "Record a completed run. The processing date becomes the new watermark.",
		Params: []Param{
			{Name: "processing_date", Type: TypeDate, Description: "Last date covered by the run (YYYY-MM-DD).", Required: true},
			{Name: "files_processed", Type: TypeInteger, Description: "Number of input files processed.", Required: true},
			{Name: "records_processed", Type: TypeInteger, Description: "Number of account records processed.", Required: true},
			{Name: "summary", Type: TypeString, Description: "Short description of the run.", Required: true},
		},
	}
}

func (s *UpdateHistory) Run(ctx context.Context, args Args) (any, error) {
	date, err := args.Date("processing_date")
	if err != nil {
		return nil, err
	}
	files, err := args.Int("files_processed")
	if err != nil {
		return nil, err
	}
	records, err := args.Int("records_processed")
	if err != nil {
		return nil, err
	}
	summary, err := args.String("summary")
	if err != nil {
		return nil, err
	}

	if s.deps.Store == nil {
		return nil, &watermark.StorageError{Op: "append", Backend: "none", Err: errors.New("no watermark store configured")}
	}

	err = s.deps.Store.AppendHistory(ctx, watermark.Record{
		ProcessingDate:   date,
		FilesProcessed:   files,
		RecordsProcessed: records,
		Summary:          summary,
		RecordedAt:       s.deps.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	stageLogger(ctx, OpUpdateHistory).Info("processing history updated",
		"processing_date", date.Format(DateLayout),
		"files", files,
		"records", records,
	)
	return HistoryResult{Status: "success", ProcessingDate: date.Format(DateLayout)}, nil
}
