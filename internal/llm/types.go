// Package llm provides the canonical conversation types and the
// provider adapters that translate them to and from vendor wire
// formats. Raw provider payloads never leave this package: each
// adapter either produces a validated *AssistantTurn or fails.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Turn is one entry in the conversation history.
//
// Assistant turns may carry tool calls alongside (or instead of) text.
// Tool-result turns carry the originating call's ID in ToolCallID and
// the result text in Content; IsError marks a failed execution so the
// tool-use dialect can tag the result block accordingly.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall is a request from the model to invoke a named tool.
// ID is assigned by the backend and must be echoed verbatim on the
// matching tool result.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolParam describes one declared tool parameter.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // JSON schema type: string, integer, number, boolean, object, array
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// ToolSpec declares a tool to the model.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters"`
}

// InputSchema renders the parameter list as a JSON-schema object, the
// declaration shape both dialects consume.
func (s ToolSpec) InputSchema() map[string]any {
	props := make(map[string]any, len(s.Parameters))
	var required []string
	for _, p := range s.Parameters {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tool execution failure kinds, recorded on ToolResult.ErrorKind.
const (
	ErrKindValidation  = "validation"
	ErrKindUnknownTool = "unknown_tool"
	ErrKindTimeout     = "timeout"
	ErrKindExecution   = "execution"
)

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	CallID      string `json:"call_id"`
	Output      string `json:"output"`
	Succeeded   bool   `json:"succeeded"`
	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Turn converts the result into a history turn. Failures carry the
// error detail as content so the model can see and react to them.
func (r ToolResult) Turn() Turn {
	content := r.Output
	if !r.Succeeded {
		content = r.ErrorDetail
	}
	return Turn{
		Role:       RoleToolResult,
		Content:    content,
		ToolCallID: r.CallID,
		IsError:    !r.Succeeded,
	}
}

// AssistantTurn is the canonical, dialect-independent result of one
// THINK step. An empty ToolCalls slice means the model is done and
// Text is the final reply.
type AssistantTurn struct {
	Text      string
	ToolCalls []ToolCall

	// Provenance and accounting.
	Model        string
	InputTokens  int
	OutputTokens int
}

// Turn converts the assistant turn into a history turn.
func (a *AssistantTurn) Turn() Turn {
	return Turn{
		Role:      RoleAssistant,
		Content:   a.Text,
		ToolCalls: a.ToolCalls,
	}
}
