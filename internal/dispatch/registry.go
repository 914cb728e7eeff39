// Package dispatch maps operation requests onto the stage catalog and
// normalises every outcome into a protocol.Result.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/stages"
)

// ErrDuplicateOperation is returned when two operations share a name.
var ErrDuplicateOperation = errors.New("operation already registered")

// Registry is the typed operation table.
type Registry struct {
	ops   map[string]stages.Operation
	order []string
}

// NewRegistry returns a registry holding ops.
func NewRegistry(ops ...stages.Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]stages.Operation, len(ops))}
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an operation.
func (r *Registry) Register(op stages.Operation) error {
	name := op.Name()
	if name == "" {
		return fmt.Errorf("register %T: empty operation name", op)
	}
	if _, exists := r.ops[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, name)
	}
	r.ops[name] = op
	r.order = append(r.order, name)
	return nil
}

// Lookup finds an operation by name.
func (r *Registry) Lookup(name string) (stages.Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Operations returns the registered operations in registration order.
func (r *Registry) Operations() []stages.Operation {
	out := make([]stages.Operation, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.ops[name])
	}
	return out
}
