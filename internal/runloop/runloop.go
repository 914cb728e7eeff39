// Package runloop drives one controller run: it sends the initial
// instruction, polls on a fixed interval, dispatches requested operation
// batches and stops on completion, failure or timeout.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/metrics"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/protocol"
)

// State is the run loop lifecycle state.
type State string

const (
	StateCreated        State = "created"
	StateRunning        State = "running"
	StateAwaitingAction State = "awaiting_action"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateTimedOut       State = "timed_out"
)

var (
	// ErrTimedOut is returned when the controller did not finish within the
	// configured timeout. It does not mean the controller rejected the run.
	ErrTimedOut = errors.New("run timed out")

	// ErrRunFailed is returned when the controller reports failure,
	// cancellation or expiry.
	ErrRunFailed = errors.New("run failed")
)

// TimeoutError carries the elapsed time of a timed out run.
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v after %s (timeout %s)", ErrTimedOut, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }

func (e *TimeoutError) Kind() errkind.Kind { return errkind.Timeout }

// Dispatcher executes one operation request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request) protocol.Result
}

// Config holds run loop timing.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Outcome summarises a finished run.
type Outcome struct {
	RunID            string          `json:"run_id"`
	State            State           `json:"state"`
	ControllerStatus protocol.Status `json:"controller_status,omitempty"`
	Batches          int             `json:"batches"`
	Operations       int             `json:"operations"`
	FailedOperations int             `json:"failed_operations"`
	Elapsed          time.Duration   `json:"elapsed"`
	FinalMessage     string          `json:"final_message,omitempty"`
}

// Runner drives a single run at a time.
type Runner struct {
	controller protocol.Controller
	dispatcher Dispatcher
	cfg        Config
	metrics    *metrics.Metrics
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	state State
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithSleep replaces the poll interval wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a runner.
func New(controller protocol.Controller, dispatcher Dispatcher, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		controller: controller,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepContext,
		state:      StateCreated,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return r.state
}

// Run executes one run to a terminal state. The returned error is nil only
// for StateCompleted; a timeout matches ErrTimedOut, a controller-reported
// failure matches ErrRunFailed.
func (r *Runner) Run(ctx context.Context, instruction string) (Outcome, error) {
	started := r.now()
	r.state = StateCreated
	out := Outcome{State: r.state}

	log := logging.Component("runloop")

	runID, err := r.controller.Start(ctx, instruction)
	if err != nil {
		return r.finish(ctx, log, &out, started, StateFailed, fmt.Errorf("start run: %w", err))
	}
	out.RunID = runID
	log = logging.RunLogger(runID)
	r.state = StateRunning
	log.Info("run started", "poll_interval", r.cfg.PollInterval, "timeout", r.cfg.Timeout)

	for {
		if elapsed := r.now().Sub(started); elapsed > r.cfg.Timeout {
			return r.finish(ctx, log, &out, started, StateTimedOut, &TimeoutError{Elapsed: elapsed, Timeout: r.cfg.Timeout})
		}

		snap, err := r.controller.Poll(ctx)
		if err != nil {
			return r.finish(ctx, log, &out, started, StateFailed, fmt.Errorf("poll run: %w", err))
		}
		out.ControllerStatus = snap.Status

		switch snap.Status {
		case protocol.StatusRequiresAction:
			if err := r.handleBatch(ctx, log, &out, snap.Pending); err != nil {
				return r.finish(ctx, log, &out, started, StateFailed, err)
			}
		case protocol.StatusCompleted:
			return r.finish(ctx, log, &out, started, StateCompleted, nil)
		case protocol.StatusFailed, protocol.StatusCancelled, protocol.StatusExpired:
			return r.finish(ctx, log, &out, started, StateFailed, fmt.Errorf("%w: controller status %s", ErrRunFailed, snap.Status))
		default:
			log.Debug("run in progress", "status", snap.Status)
		}

		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			return r.finish(ctx, log, &out, started, StateFailed, err)
		}
	}
}

// handleBatch dispatches the pending requests strictly in order and submits
// all results together.
func (r *Runner) handleBatch(ctx context.Context, log *slog.Logger, out *Outcome, pending []protocol.Request) error {
	r.state = StateAwaitingAction
	log.Info("action required", "requests", len(pending))

	results := make([]protocol.Result, 0, len(pending))
	for _, req := range pending {
		res := r.dispatcher.Dispatch(ctx, req)
		if !res.OK() {
			out.FailedOperations++
		}
		results = append(results, res)
	}

	if err := r.controller.Submit(ctx, results); err != nil {
		return fmt.Errorf("submit %d results: %w", len(results), err)
	}

	out.Batches++
	out.Operations += len(results)
	r.metrics.IncBatchesHandled()
	r.state = StateRunning
	return nil
}

func (r *Runner) finish(ctx context.Context, log *slog.Logger, out *Outcome, started time.Time, state State, err error) (Outcome, error) {
	r.state = state
	out.State = state
	out.Elapsed = r.now().Sub(started)

	if state == StateCompleted || out.ControllerStatus.Terminal() {
		msg, merr := r.controller.FinalMessage(ctx)
		if merr != nil {
			log.Warn("fetch final message failed", "error", merr)
		} else if msg != "" {
			out.FinalMessage = msg
			log.Info("final message", "message", msg)
		}
	}

	attrs := []any{
		"state", state,
		"batches", out.Batches,
		"operations", out.Operations,
		"failed_operations", out.FailedOperations,
		"elapsed", out.Elapsed.Round(time.Millisecond),
	}
	switch state {
	case StateCompleted:
		log.Info("run completed", attrs...)
	case StateTimedOut:
		log.Warn("run timed out waiting for controller", append(attrs, "timeout", r.cfg.Timeout)...)
	default:
		log.Error("run failed", append(attrs, "error", err)...)
	}

	r.metrics.ObserveRun(string(state), out.Elapsed.Seconds())
	return *out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
