package fsm

import (
	"errors"
	"fmt"
	"strings"
)

// ConstructionError lists every problem found while building an interpreter.
// A machine that fails to build must not start.
type ConstructionError struct {
	// Machine is the builder name, if one was given.
	Machine string

	// Problems holds one human-readable line per problem, in a stable order.
	Problems []string
}

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	prefix := "fsm"
	if e.Machine != "" {
		prefix = "fsm " + e.Machine
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", prefix, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d construction problems: %s", prefix, len(e.Problems), strings.Join(e.Problems, "; "))
}

// IsConstructionError reports whether err wraps a *ConstructionError.
func IsConstructionError(err error) bool {
	var ce *ConstructionError
	return errors.As(err, &ce)
}
