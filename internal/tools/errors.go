// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for registration and
// argument validation.
package tools

import (
	"fmt"
	"strings"
)

// DuplicateToolError is returned by Register when a tool with the same
// name is already present.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError is returned when a tool call targets a tool that is
// not present in the registry. This indicates a capability mismatch,
// not a transient execution failure.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ValidationError reports tool arguments that do not satisfy the
// declared parameter list. The tool is never invoked.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}
