package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/metrics"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/protocol"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/stages"
)

// ValidationError rejects a request before the stage runs.
type ValidationError struct {
	Operation string
	Keys      []string
	Reason    string
}

func (e *ValidationError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("%s: %s", e.Reason, e.Operation)
	}
	return fmt.Sprintf("%s: %s: %s", e.Operation, e.Reason, strings.Join(e.Keys, ", "))
}

func (e *ValidationError) Kind() errkind.Kind { return errkind.Validation }

// PanicError is a recovered stage panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

func (e *PanicError) Kind() errkind.Kind { return errkind.Internal }

// StaticConfig holds pipeline-owned arguments per operation name.
type StaticConfig map[string]map[string]any

// Dispatcher executes single operation requests. It keeps no state between
// calls.
type Dispatcher struct {
	registry *Registry
	static   StaticConfig
	metrics  *metrics.Metrics
}

// New builds a dispatcher. Static configuration may only name registered
// operations and their declared parameters.
func New(registry *Registry, static StaticConfig, m *metrics.Metrics) (*Dispatcher, error) {
	for name, values := range static {
		op, ok := registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("static config for unknown operation %q", name)
		}
		schema := op.Describe()
		for key := range values {
			if _, ok := schema.Param(key); !ok {
				return nil, fmt.Errorf("static config for %s: undeclared argument %q", name, key)
			}
		}
	}

	return &Dispatcher{registry: registry, static: static, metrics: m}, nil
}

// Registry returns the operation table.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs one request. It never panics and never returns a Go error:
// every failure is reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req protocol.Request) protocol.Result {
	cid := req.CorrelationID
	if cid == "" {
		cid = logging.GenerateCorrelationID()
	}
	ctx = logging.WithCorrelationID(ctx, cid)
	log := logging.OperationLogger(cid, req.Operation)

	start := time.Now()
	payload, err := d.execute(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		kind := errkind.Classify(err)
		log.Error("operation failed",
			"kind", kind,
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		d.metrics.ObserveOperation(req.Operation, string(protocol.ResultError), elapsed.Seconds())
		d.metrics.IncOperationErrors(req.Operation, string(kind))
		return protocol.Result{
			CorrelationID: cid,
			Operation:     req.Operation,
			Status:        protocol.ResultError,
			Error:         &protocol.ErrorInfo{Kind: kind, Message: err.Error()},
		}
	}

	log.Info("operation completed", "duration_ms", elapsed.Milliseconds())
	d.metrics.ObserveOperation(req.Operation, string(protocol.ResultSuccess), elapsed.Seconds())
	if rc, ok := payload.(interface{ RecordCount() int }); ok {
		d.metrics.AddRecordsProcessed(req.Operation, float64(rc.RecordCount()))
	}

	return protocol.Result{
		CorrelationID: cid,
		Operation:     req.Operation,
		Status:        protocol.ResultSuccess,
		Payload:       payload,
	}
}

func (d *Dispatcher) execute(ctx context.Context, req protocol.Request) (any, error) {
	op, ok := d.registry.Lookup(req.Operation)
	if !ok {
		return nil, &ValidationError{Operation: req.Operation, Reason: "unknown operation"}
	}

	args, err := d.merge(op, req.Arguments)
	if err != nil {
		return nil, err
	}

	return run(ctx, op, args)
}

// merge combines caller arguments with static configuration and checks
// them against the operation schema.
func (d *Dispatcher) merge(op stages.Operation, caller map[string]any) (stages.Args, error) {
	name := op.Name()
	schema := op.Describe()
	static := d.static[name]

	args := make(stages.Args, len(caller)+len(static))
	var collisions, undeclared []string

	for key, value := range caller {
		if value == nil {
			continue
		}
		if _, owned := static[key]; owned {
			collisions = append(collisions, key)
			continue
		}
		if _, declared := schema.Param(key); !declared {
			undeclared = append(undeclared, key)
			continue
		}
		args[key] = value
	}

	if len(collisions) > 0 {
		sort.Strings(collisions)
		return nil, &ValidationError{Operation: name, Keys: collisions, Reason: "arguments are owned by pipeline configuration"}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return nil, &ValidationError{Operation: name, Keys: undeclared, Reason: "undeclared arguments"}
	}

	for key, value := range static {
		args[key] = value
	}

	var missing []string
	for _, key := range schema.Required() {
		if !args.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Operation: name, Keys: missing, Reason: "missing required arguments"}
	}

	return args, nil
}

func run(ctx context.Context, op stages.Operation, args stages.Args) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return op.Run(ctx, args)
}
