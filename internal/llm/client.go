package llm

import "context"

// Client is the interface both provider adapters implement.
//
// Think postconditions: on success, either ToolCalls is non-empty
// (text may be empty interim reasoning), or ToolCalls is empty and
// Text is the final reply. A response satisfying neither is a
// *ProtocolError. Call ordering in ToolCalls matches the wire order.
type Client interface {
	// Think sends the history and tool declarations to the backend and
	// returns the next assistant turn.
	Think(ctx context.Context, turns []Turn, specs []ToolSpec) (*AssistantTurn, error)

	// Ping checks if the provider is reachable with the configured
	// credentials.
	Ping(ctx context.Context) error
}
