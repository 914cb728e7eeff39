// Package errkind classifies pipeline errors into the small taxonomy that is
// reported back to the controller.
package errkind

import (
	"context"
	"errors"
	"os"
)

// Kind is the coarse error class carried in every error result.
type Kind string

const (
	// Validation errors are caller-correctable: bad or missing arguments,
	// name collisions with static configuration, unknown operations.
	Validation Kind = "validation"
	// Domain errors mean the input data is bad (unknown jurisdiction,
	// missing base date, malformed file date).
	Domain Kind = "domain"
	// Resource errors point at the environment: storage, filesystem,
	// external processes, distribution targets.
	Resource Kind = "resource"
	// Timeout is reserved for the run loop giving up on the controller.
	Timeout Kind = "timeout"
	// Internal covers anything unclassified, including recovered panics.
	Internal Kind = "internal"
)

// Kinded is implemented by typed errors that know their class.
type Kinded interface {
	Kind() Kind
}

// Classify returns the Kind for err. Typed errors win; otherwise context
// cancellation is a timeout and filesystem path errors are resource errors.
func Classify(err error) Kind {
	if err == nil {
		return Internal
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return Resource
	}
	var lerr *os.LinkError
	if errors.As(err, &lerr) {
		return Resource
	}
	return Internal
}
