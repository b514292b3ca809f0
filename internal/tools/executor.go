package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelhq/kestrel/internal/llm"
)

// Executor defaults.
const (
	// DefaultTimeout bounds one tool call's wall-clock time.
	DefaultTimeout = 30 * time.Second

	// DefaultOutputCap bounds tool output length to keep prompt growth
	// in check.
	DefaultOutputCap = 2000
)

// TruncationMarker is appended to tool output cut at the cap.
const TruncationMarker = "\n[... output truncated ...]"

// ExecutorConfig bounds tool execution.
type ExecutorConfig struct {
	Timeout   time.Duration
	OutputCap int
}

// Executor invokes registered tools safely. All failures — unknown
// tool, invalid arguments, handler error or panic, timeout — are
// captured as a failed ToolResult; Execute never returns an error and
// never lets a tool take down the loop.
type Executor struct {
	registry  *Registry
	timeout   time.Duration
	outputCap int
	logger    *slog.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger, cfg ExecutorConfig) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.OutputCap <= 0 {
		cfg.OutputCap = DefaultOutputCap
	}
	return &Executor{
		registry:  registry,
		timeout:   cfg.Timeout,
		outputCap: cfg.OutputCap,
		logger:    logger.With("component", "executor"),
	}
}

// Execute runs one tool call to completion and reports the outcome.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	start := time.Now()

	handler, err := e.registry.Lookup(call.Name)
	if err != nil {
		e.logger.Warn("tool not found", "tool", call.Name, "call_id", call.ID)
		return llm.ToolResult{
			CallID:      call.ID,
			ErrorKind:   llm.ErrKindUnknownTool,
			ErrorDetail: err.Error(),
		}
	}

	spec, _ := e.registry.Spec(call.Name)
	args, err := validateArgs(spec, call.Arguments)
	if err != nil {
		e.logger.Warn("tool arguments rejected", "tool", call.Name, "call_id", call.ID, "error", err)
		return llm.ToolResult{
			CallID:      call.ID,
			ErrorKind:   llm.ErrKindValidation,
			ErrorDetail: err.Error(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := invoke(ctx, handler, args)
	elapsed := time.Since(start)

	if err != nil {
		kind := llm.ErrKindExecution
		if errors.Is(err, context.DeadlineExceeded) {
			kind = llm.ErrKindTimeout
			err = fmt.Errorf("tool timed out after %s", e.timeout)
		}
		e.logger.Warn("tool failed",
			"tool", call.Name,
			"call_id", call.ID,
			"kind", kind,
			"elapsed", elapsed,
			"error", err,
		)
		return llm.ToolResult{
			CallID:      call.ID,
			Output:      truncate(out, e.outputCap),
			ErrorKind:   kind,
			ErrorDetail: err.Error(),
		}
	}

	e.logger.Debug("tool succeeded",
		"tool", call.Name,
		"call_id", call.ID,
		"elapsed", elapsed,
		"output_len", len(out),
	)
	return llm.ToolResult{
		CallID:    call.ID,
		Output:    truncate(out, e.outputCap),
		Succeeded: true,
	}
}

// invoke runs the handler, converting a panic inside a tool
// implementation into an ordinary error.
func invoke(ctx context.Context, h Handler, args map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	out, err = h(ctx, args)
	// A handler that ignores its context can still return success after
	// the deadline; the timeout wins either way.
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return out, err
}

// validateArgs checks call arguments against the declared parameter
// list. Missing required parameters fail validation outright; unknown
// parameters are dropped; declared parameters with obviously wrong
// JSON types fail validation.
func validateArgs(spec llm.ToolSpec, args map[string]any) (map[string]any, error) {
	declared := make(map[string]llm.ToolParam, len(spec.Parameters))
	for _, p := range spec.Parameters {
		declared[p.Name] = p
	}

	out := make(map[string]any, len(args))
	var problems []string

	for name, val := range args {
		p, ok := declared[name]
		if !ok {
			continue // dropped
		}
		if !typeMatches(p.Type, val) {
			problems = append(problems, fmt.Sprintf("parameter %q: expected %s, got %T", name, p.Type, val))
			continue
		}
		out[name] = val
	}

	for _, p := range spec.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := out[p.Name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Tool: spec.Name, Problems: problems}
	}
	return out, nil
}

// typeMatches checks a JSON-decoded value against a declared schema
// type. Unknown declared types are accepted as-is.
func typeMatches(declared string, val any) bool {
	if val == nil {
		return false
	}
	switch declared {
	case "string":
		_, ok := val.(string)
		return ok
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "number", "integer":
		switch val.(type) {
		case float64, int, int64, json.Number:
			return true
		}
		return false
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}

// truncate cuts s at cap characters, appending the truncation marker.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + TruncationMarker
}
