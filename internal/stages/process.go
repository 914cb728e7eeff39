package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ProcessResult is the payload of process_input_files.
type ProcessResult struct {
	LogFile  string `json:"log_file"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
}

// ProcessInputs runs the external legacy processor over the generated
// files. It is never retried here.
type ProcessInputs struct{}

func (*ProcessInputs) Name() string { return OpProcessInputs }

func (*ProcessInputs) Describe() Schema {
	return Schema{
		Description: "Run the external processor with the utimphis, imdiary and lcimp002 files as positional arguments, capturing stdout and stderr into the log file. A non-zero exit status is a failure.",
		Params: []Param{
			{Name: "utimphis_file", Type: TypeString, Description: "Generated utimphis file.", Required: true},
			{Name: "imdiary_file", Type: TypeString, Description: "Generated imdiary file.", Required: true},
			{Name: "lcimp002_file", Type: TypeString, Description: "Generated lcimp002 file.", Required: true},
			{Name: "acuthin_path", Type: TypeString, Description: "Path to the processor executable.", Required: true},
			{Name: "log_file", Type: TypeString, Description: "File receiving the processor output.", Required: true},
		},
	}
}

func (s *ProcessInputs) Run(ctx context.Context, args Args) (any, error) {
	log := stageLogger(ctx, OpProcessInputs)

	var files []string
	for _, name := range []string{"utimphis_file", "imdiary_file", "lcimp002_file"} {
		f, err := args.String(name)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	exe, err := args.String("acuthin_path")
	if err != nil {
		return nil, err
	}
	logPath, err := args.String("log_file")
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, exe, files...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	log.Info("starting external processor", "path", exe, "log_file", logPath)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Error("external processor failed", "exit_code", exitErr.ExitCode(), "log_file", logPath)
			return nil, &ExternalProcessError{Path: exe, ExitCode: exitErr.ExitCode(), LogPath: logPath, Err: err}
		}
		return nil, &ExternalProcessError{Path: exe, ExitCode: -1, LogPath: logPath, Err: err}
	}

	log.Info("external processor finished", "log_file", logPath)
	return ProcessResult{LogFile: logPath, Status: "success", ExitCode: 0}, nil
}
