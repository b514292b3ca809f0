// Package history holds the append-only conversation log shared across
// agent loop iterations. It is a constrained sequence type: every
// append is checked against the call/result pairing invariants, and
// committed turns are never mutated or removed.
package history

import (
	"fmt"

	"github.com/kestrelhq/kestrel/internal/llm"
)

// History is the ordered log of conversation turns for one session.
// It is owned by the agent loop, which is the only writer; other
// components see read-only snapshots. Not safe for concurrent use —
// a session processes one instruction at a time by design.
type History struct {
	turns []llm.Turn

	// pending holds the tool calls of the most recent assistant turn
	// that have not yet received results, in call order.
	pending []llm.ToolCall
}

// New creates a history, seeded with one system turn if systemPrompt
// is non-empty.
func New(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.turns = append(h.turns, llm.Turn{Role: llm.RoleSystem, Content: systemPrompt})
	}
	return h
}

// Append adds a turn to the history, enforcing the pairing invariants:
//
//   - a tool_result turn must match the next outstanding tool call of
//     the preceding assistant turn, in call order;
//   - no other turn may be appended while results are outstanding;
//   - an assistant turn with tool calls opens a new outstanding set.
//
// Violations fail with *llm.ProtocolError and leave the history
// unchanged.
func (h *History) Append(t llm.Turn) error {
	switch t.Role {
	case llm.RoleToolResult:
		if len(h.pending) == 0 {
			return &llm.ProtocolError{Detail: fmt.Sprintf("tool result %q has no pending call", t.ToolCallID)}
		}
		next := h.pending[0]
		if t.ToolCallID != next.ID {
			return &llm.ProtocolError{Detail: fmt.Sprintf("tool result %q does not match next pending call %q", t.ToolCallID, next.ID)}
		}
		h.pending = h.pending[1:]

	case llm.RoleAssistant:
		if len(h.pending) > 0 {
			return &llm.ProtocolError{Detail: fmt.Sprintf("assistant turn appended with %d tool results outstanding", len(h.pending))}
		}
		h.pending = append([]llm.ToolCall(nil), t.ToolCalls...)

	case llm.RoleUser, llm.RoleSystem:
		if len(h.pending) > 0 {
			return &llm.ProtocolError{Detail: fmt.Sprintf("%s turn appended with %d tool results outstanding", t.Role, len(h.pending))}
		}

	default:
		return &llm.ProtocolError{Detail: fmt.Sprintf("unknown turn role %q", t.Role)}
	}

	h.turns = append(h.turns, t)
	return nil
}

// Snapshot returns a copy of the turns for read-only use by adapters.
func (h *History) Snapshot() []llm.Turn {
	out := make([]llm.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of committed turns.
func (h *History) Len() int {
	return len(h.turns)
}

// PendingCalls returns how many tool calls are awaiting results.
func (h *History) PendingCalls() int {
	return len(h.pending)
}
