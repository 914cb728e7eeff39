// Package protocol defines the batch request/response contract spoken with
// the external controller that sequences pipeline operations.
package protocol

import (
	"context"
	"encoding/json"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
)

// Status is the controller-reported lifecycle state of a run.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusRequiresAction Status = "requires_action"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Terminal reports whether the controller will not make further progress.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Request asks for one operation to be executed.
type Request struct {
	CorrelationID string         `json:"correlation_id"`
	Operation     string         `json:"operation"`
	Arguments     map[string]any `json:"arguments,omitempty"`
}

// ResultStatus is success or error.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// ErrorInfo is the error half of the result envelope.
type ErrorInfo struct {
	Kind    errkind.Kind `json:"kind"`
	Message string       `json:"message"`
}

// Result is the uniform envelope returned for every Request.
type Result struct {
	CorrelationID string       `json:"correlation_id"`
	Operation     string       `json:"operation"`
	Status        ResultStatus `json:"status"`
	Payload       any          `json:"payload,omitempty"`
	Error         *ErrorInfo   `json:"error,omitempty"`
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Status == ResultSuccess }

// Output renders the result as the JSON document handed back to the
// controller.
func (r Result) Output() string {
	b, err := json.Marshal(r)
	if err != nil {
		// Payloads are built from plain maps and slices; fall back to a
		// bare error envelope rather than dropping the result.
		fallback, _ := json.Marshal(Result{
			CorrelationID: r.CorrelationID,
			Operation:     r.Operation,
			Status:        ResultError,
			Error:         &ErrorInfo{Kind: errkind.Internal, Message: "encode result: " + err.Error()},
		})
		return string(fallback)
	}
	return string(b)
}

// Snapshot is one observation of the controller-side run.
type Snapshot struct {
	Status  Status
	Pending []Request // populated when Status is StatusRequiresAction
}

// Controller is the external sequencer. Implementations hold one run at a
// time and are driven by a single goroutine.
type Controller interface {
	// Start sends the initial instruction and returns a run handle.
	Start(ctx context.Context, instruction string) (runID string, err error)

	// Poll returns the current run status and any pending requests.
	Poll(ctx context.Context) (Snapshot, error)

	// Submit hands back the complete batch of results for the last
	// requires_action snapshot.
	Submit(ctx context.Context, results []Result) error

	// FinalMessage returns the controller's closing message, if any.
	FinalMessage(ctx context.Context) (string, error)
}
