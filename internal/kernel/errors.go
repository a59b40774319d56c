package kernel

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the dispatch and boot surfaces. Callers match them
// with errors.Is; the wrapped chain preserves the resource identity and
// the original cause.
var (
	// ErrResourceNotFound reports a dispatch target absent from the
	// registry.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrControllerMissing reports a Kind with no controller bound.
	ErrControllerMissing = errors.New("no controller for kind")
	// ErrExecutionFailed wraps any failure raised by a dispatch target.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrControllerInvalid reports a controller unable to serve the
	// requested operation.
	ErrControllerInvalid = errors.New("controller invalid")
	// ErrReservedEvent reports an attempt to emit a reserved lifecycle
	// event as a custom resource event.
	ErrReservedEvent = errors.New("event name is reserved")
)

// UnresolvedResource is one resource left without a controller when
// discovery ended, paired with the most recent creation error recorded
// for it.
type UnresolvedResource struct {
	Ref string
	Err error
}

// DiscoveryError reports every resource still unhandled after the
// discovery pass limit, one entry per resource.
type DiscoveryError struct {
	Passes     int
	LimitBound bool
	Unresolved []UnresolvedResource
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	lines := make([]string, 0, len(e.Unresolved))
	for _, u := range e.Unresolved {
		lines = append(lines, fmt.Sprintf("%s: %v", u.Ref, u.Err))
	}
	msg := fmt.Sprintf("controller discovery failed after %d passes:\n- %s",
		e.Passes, strings.Join(lines, "\n- "))
	if e.LimitBound {
		msg += "\n(the pass limit was reached while progress was still being made; raising MaxDiscoveryPasses may help)"
	}
	return msg
}
