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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient speaks the function-calling dialect: tools are declared
// as a function list, the model requests invocations via tool_calls
// entries with backend-assigned ids, and results are returned as
// role:"tool" messages echoing the id.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for the OpenAI chat completions API
// or a compatible backend (baseURL override).
func NewOpenAIClient(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	// Responses can take a while before headers arrive on long prompts.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0), // rely on ctx deadlines
			httpkit.WithTransport(t),
		),
	}
}

// OpenAI request/response wire types.

type oaRequest struct {
	Model    string      `json:"model"`
	Messages []oaMessage `json:"messages"`
	Tools    []oaTool    `json:"tools,omitempty"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded object
}

type oaTool struct {
	Type     string        `json:"type"`
	Function oaFunctionDef `json:"function"`
}

type oaFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type oaResponse struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Choices []oaChoice `json:"choices"`
	Usage   oaUsage    `json:"usage"`
}

type oaChoice struct {
	Message      oaMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Think implements Client.
func (c *OpenAIClient) Think(ctx context.Context, turns []Turn, specs []ToolSpec) (*AssistantTurn, error) {
	req := oaRequest{
		Model:    c.model,
		Messages: convertToOpenAI(turns),
		Tools:    convertToolsToOpenAI(specs),
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", c.model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &ProviderError{
			Provider:  "openai",
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", errBody),
		}
	}

	var wire oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &ProtocolError{Detail: fmt.Sprintf("openai: decode response: %v", err)}
	}

	turn, err := convertFromOpenAI(&wire)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response received",
		"model", turn.Model,
		"input_tokens", turn.InputTokens,
		"output_tokens", turn.OutputTokens,
		"tool_calls", len(turn.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", turn.Text)

	return turn, nil
}

// Ping checks if the API is reachable with the configured key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from API: %d", resp.StatusCode)
	}
	return nil
}

// convertToOpenAI maps canonical turns 1:1 onto role-tagged messages.
// Tool results become role:"tool" messages carrying the originating
// call id.
func convertToOpenAI(turns []Turn) []oaMessage {
	var result []oaMessage
	for _, t := range turns {
		switch t.Role {
		case RoleAssistant:
			msg := oaMessage{Role: "assistant", Content: t.Content}
			for _, tc := range t.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				encoded, err := json.Marshal(args)
				if err != nil {
					encoded = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, oaToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: oaFunction{
						Name:      tc.Name,
						Arguments: string(encoded),
					},
				})
			}
			result = append(result, msg)

		case RoleToolResult:
			result = append(result, oaMessage{
				Role:       "tool",
				Content:    t.Content,
				ToolCallID: t.ToolCallID,
			})

		default: // system, user
			result = append(result, oaMessage{
				Role:    string(t.Role),
				Content: t.Content,
			})
		}
	}
	return result
}

// convertToolsToOpenAI renders tool specs as a function declaration list.
func convertToolsToOpenAI(specs []ToolSpec) []oaTool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]oaTool, 0, len(specs))
	for _, s := range specs {
		result = append(result, oaTool{
			Type: "function",
			Function: oaFunctionDef{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.InputSchema(),
			},
		})
	}
	return result
}

// convertFromOpenAI validates the wire response into a canonical turn.
// A tool_calls entry that cannot be parsed is fatal, never skipped.
func convertFromOpenAI(resp *oaResponse) (*AssistantTurn, error) {
	if len(resp.Choices) == 0 {
		return nil, &ProtocolError{Detail: "openai: response has no choices"}
	}
	msg := resp.Choices[0].Message

	var calls []ToolCall
	for i, tc := range msg.ToolCalls {
		if tc.ID == "" {
			return nil, &ProtocolError{Detail: fmt.Sprintf("openai: tool call %d has no id", i)}
		}
		if tc.Function.Name == "" {
			return nil, &ProtocolError{Detail: fmt.Sprintf("openai: tool call %q has no function name", tc.ID)}
		}
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &ProtocolError{Detail: fmt.Sprintf("openai: tool call %q arguments: %v", tc.ID, err)}
			}
		}
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	if len(calls) == 0 && strings.TrimSpace(msg.Content) == "" {
		return nil, &ProtocolError{Detail: "openai: assistant turn carries neither text nor tool calls"}
	}

	return &AssistantTurn{
		Text:         msg.Content,
		ToolCalls:    calls,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
