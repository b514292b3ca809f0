package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// AnthropicClient speaks the tool-use dialect of the Messages API:
// tools are declared as tool blocks, the response is a sequence of
// content blocks (text and tool_use), and results go back as
// tool_result blocks echoing the tool_use id.
type AnthropicClient struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, model string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Model responses can take significant time before sending headers
	// (long prompts, thinking). Use a generous response header timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiURL: anthropicAPIURL,
		apiKey: apiKey,
		model:  model,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0), // rely on ctx deadlines
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response wire types.

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"` // for tool_result
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Think implements Client.
func (c *AnthropicClient) Think(ctx context.Context, turns []Turn, specs []ToolSpec) (*AssistantTurn, error) {
	messages, systemPrompt := convertToAnthropic(turns)

	req := anthropicRequest{
		Model:     c.model,
		Messages:  messages,
		System:    systemPrompt,
		MaxTokens: anthropicMaxTokens,
		Tools:     convertToolsToAnthropic(specs),
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", c.model,
		"messages", len(messages),
		"tools", len(req.Tools),
		"system_len", len(systemPrompt),
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("anthropic", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &ProviderError{
			Provider:  "anthropic",
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", errBody),
		}
	}

	var wire anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &ProtocolError{Detail: fmt.Sprintf("anthropic: decode response: %v", err)}
	}

	turn, err := convertFromAnthropic(&wire)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response received",
		"model", turn.Model,
		"stop_reason", wire.StopReason,
		"input_tokens", turn.InputTokens,
		"output_tokens", turn.OutputTokens,
		"tool_calls", len(turn.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", turn.Text)

	return turn, nil
}

// Ping checks if the Anthropic API is reachable. There is no dedicated
// health endpoint, so a minimal one-token request verifies the key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	req := anthropicRequest{
		Model:     c.model,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", resp.StatusCode)
	}
	return nil
}

// convertToAnthropic converts canonical turns to Anthropic messages.
// System turns are extracted into a separate system prompt.
func convertToAnthropic(turns []Turn) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			systemParts = append(systemParts, t.Content)

		case RoleAssistant:
			if len(t.ToolCalls) > 0 {
				// Assistant turn with tool calls → content blocks
				var blocks []anthropicContent
				if t.Content != "" {
					blocks = append(blocks, anthropicContent{
						Type: "text",
						Text: t.Content,
					})
				}
				for _, tc := range t.ToolCalls {
					args := tc.Arguments
					if args == nil {
						args = map[string]any{}
					}
					input, err := json.Marshal(args)
					if err != nil {
						input = []byte("{}")
					}
					blocks = append(blocks, anthropicContent{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					})
				}
				result = append(result, anthropicMessage{
					Role:    "assistant",
					Content: blocks,
				})
			} else {
				result = append(result, anthropicMessage{
					Role:    "assistant",
					Content: t.Content,
				})
			}

		case RoleToolResult:
			// Tool results → tool_result content blocks, tagged with the
			// originating tool_use id and the error flag.
			result = append(result, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: t.ToolCallID,
					Content:   t.Content,
					IsError:   t.IsError,
				}},
			})

		case RoleUser:
			result = append(result, anthropicMessage{
				Role:    "user",
				Content: t.Content,
			})
		}
	}

	system := strings.Join(systemParts, "\n\n")
	return result, system
}

// convertToolsToAnthropic renders tool specs as tool blocks.
func convertToolsToAnthropic(specs []ToolSpec) []anthropicTool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]anthropicTool, 0, len(specs))
	for _, s := range specs {
		result = append(result, anthropicTool{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema(),
		})
	}
	return result
}

// convertFromAnthropic validates the wire response into a canonical
// turn. Text blocks are concatenated in order; tool_use blocks become
// tool calls in order. A tool_use block that cannot be parsed is
// fatal, never skipped. Unrecognized non-tool block types are ignored.
func convertFromAnthropic(resp *anthropicResponse) (*AssistantTurn, error) {
	var text strings.Builder
	var calls []ToolCall

	for i, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if block.ID == "" {
				return nil, &ProtocolError{Detail: fmt.Sprintf("anthropic: tool_use block %d has no id", i)}
			}
			if block.Name == "" {
				return nil, &ProtocolError{Detail: fmt.Sprintf("anthropic: tool_use block %q has no name", block.ID)}
			}
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, &ProtocolError{Detail: fmt.Sprintf("anthropic: tool_use block %q input: %v", block.ID, err)}
				}
			}
			calls = append(calls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	if len(calls) == 0 && strings.TrimSpace(text.String()) == "" {
		return nil, &ProtocolError{Detail: "anthropic: assistant turn carries neither text nor tool calls"}
	}

	return &AssistantTurn{
		Text:         text.String(),
		ToolCalls:    calls,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
