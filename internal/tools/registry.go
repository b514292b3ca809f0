package tools

import (
	"context"
	"fmt"

	"github.com/kestrelhq/kestrel/internal/llm"
)

// Handler is a tool implementation. It receives validated arguments
// and returns output text for the model, or an error describing the
// failure.
type Handler func(ctx context.Context, args map[string]any) (string, error)

type entry struct {
	spec    llm.ToolSpec
	handler Handler
}

// Registry maps tool names to their declared specs and handlers.
// Specs() preserves registration order — some backends attach
// positional weight to the declaration list, so ordering must be
// stable for the whole session.
type Registry struct {
	order   []string
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool. Fails with *DuplicateToolError if the name is
// already taken.
func (r *Registry) Register(spec llm.ToolSpec, h Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec has no name")
	}
	if h == nil {
		return fmt.Errorf("tool %q has no handler", spec.Name)
	}
	if _, exists := r.entries[spec.Name]; exists {
		return &DuplicateToolError{Name: spec.Name}
	}
	r.entries[spec.Name] = &entry{spec: spec, handler: h}
	r.order = append(r.order, spec.Name)
	return nil
}

// Lookup returns the handler for a name, or *UnknownToolError.
func (r *Registry) Lookup(name string) (Handler, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return e.handler, nil
}

// Spec returns the declared spec for a name.
func (r *Registry) Spec(name string) (llm.ToolSpec, bool) {
	e, ok := r.entries[name]
	if !ok {
		return llm.ToolSpec{}, false
	}
	return e.spec, true
}

// Specs returns all tool specs in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}
