package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
)

// Window is an inclusive processing window.
type Window struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Source    string `json:"source"` // "watermark" | "arguments" | "prompt"
}

// DetermineScope derives the processing window for this run.
type DetermineScope struct {
	deps Deps
}

func (*DetermineScope) Name() string { return OpDetermineScope }

func (*DetermineScope) Describe() Schema {
	return Schema{
		Description: "Determine the date range to process. Uses the day after the last processed date through today, unless no run has been recorded or force_user_input is set, in which case start_date and end_date are used.",
		Params: []Param{
			{Name: "force_user_input", Type: TypeBoolean, Description: "Ignore the recorded watermark and use explicit dates."},
			{Name: "start_date", Type: TypeDate, Description: "First date to process (YYYY-MM-DD)."},
			{Name: "end_date", Type: TypeDate, Description: "Last date to process (YYYY-MM-DD)."},
		},
	}
}

func (s *DetermineScope) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpDetermineScope)

	force, err := args.OptBool("force_user_input", false)
	if err != nil {
		return nil, err
	}

	if !force && s.deps.Store != nil {
		last, ok, err := s.deps.Store.LastProcessedDate(ctx)
		if err != nil {
			return nil, &ScopeError{Reason: "read watermark", Err: err}
		}
		if ok {
			start := last.AddDate(0, 0, 1)
			end := today(s.deps.now())
			if start.After(end) {
				return nil, &ScopeError{Reason: fmt.Sprintf("nothing to process: already processed through %s", last.Format(DateLayout))}
			}
			log.Info("scope from watermark", "last_processed", last.Format(DateLayout))
			return window(start, end, "watermark"), nil
		}
	}

	start, end, source, err := s.explicitWindow(ctx, args)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, &ScopeError{Reason: fmt.Sprintf("start_date %s is after end_date %s", start.Format(DateLayout), end.Format(DateLayout))}
	}

	log.Info("scope from explicit dates", "source", source, "start_date", start.Format(DateLayout), "end_date", end.Format(DateLayout))
	return window(start, end, source), nil
}

func (s *DetermineScope) explicitWindow(ctx context.Context, args Args) (time.Time, time.Time, string, error) {
	if args.Has("start_date") || args.Has("end_date") {
		start, err := args.Date("start_date")
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		end, err := args.Date("end_date")
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		return start, end, "arguments", nil
	}

	if s.deps.Prompter == nil {
		return time.Time{}, time.Time{}, "", &ScopeError{Reason: "no processing history recorded; start_date and end_date are required"}
	}

	start, err := s.promptDate(ctx, "Start date (YYYY-MM-DD): ")
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	end, err := s.promptDate(ctx, "End date (YYYY-MM-DD): ")
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	return start, end, "prompt", nil
}

func (s *DetermineScope) promptDate(ctx context.Context, question string) (time.Time, error) {
	answer, err := s.deps.Prompter.Prompt(ctx, question)
	if err != nil {
		return time.Time{}, &ScopeError{Reason: "prompt", Err: err}
	}
	d, err := time.Parse(DateLayout, strings.TrimSpace(answer))
	if err != nil {
		return time.Time{}, &ScopeError{Reason: fmt.Sprintf("invalid date %q", strings.TrimSpace(answer))}
	}
	return d, nil
}

func window(start, end time.Time, source string) Window {
	return Window{
		StartDate: start.Format(DateLayout),
		EndDate:   end.Format(DateLayout),
		Source:    source,
	}
}

func today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func stageLogger(ctx context.Context, op string) *slog.Logger {
	return logging.Component("stage").With(
		"operation", op,
		"correlation_id", logging.CorrelationID(ctx),
	)
}
