package template

import (
	"fmt"
	"strings"
)

// DepthError reports template nesting beyond the configured maximum.
type DepthError struct {
	Template string
	Depth    int
	Limit    int
}

// Error implements the error interface.
func (e *DepthError) Error() string {
	return fmt.Sprintf("template %s: expansion depth %d exceeds the configured limit of %d",
		e.Template, e.Depth, e.Limit)
}

// IncompleteError reports instantiations still unresolved after the
// expansion pass limit was exhausted. The limit itself is named so the
// diagnosis is never a generic "did not converge".
type IncompleteError struct {
	Passes    int
	Remaining []string
}

// Error implements the error interface.
func (e *IncompleteError) Error() string {
	return fmt.Sprintf("template expansion incomplete after the configured limit of %d passes; unresolved instances: %s",
		e.Passes, strings.Join(e.Remaining, ", "))
}

// BlueprintError reports a blueprint that expanded into an invalid
// resource (missing kind or metadata.name).
type BlueprintError struct {
	Template string
	Index    int
	Reason   string
}

// Error implements the error interface.
func (e *BlueprintError) Error() string {
	return fmt.Sprintf("template %s: blueprint %d expanded into an invalid resource: %s",
		e.Template, e.Index, e.Reason)
}
