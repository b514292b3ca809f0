package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func openAITestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIClient("test-key", server.URL, "gpt-test", nil)
}

func TestOpenAI_Think_TextResponse(t *testing.T) {
	var gotReq oaRequest
	var gotAuth string

	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(oaResponse{
			Model: "gpt-test-2",
			Choices: []oaChoice{{
				Message:      oaMessage{Role: "assistant", Content: "hello there"},
				FinishReason: "stop",
			}},
			Usage: oaUsage{PromptTokens: 12, CompletionTokens: 5},
		})
	})

	turns := []Turn{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}
	specs := []ToolSpec{{
		Name:        "lookup",
		Description: "look something up",
		Parameters:  []ToolParam{{Name: "q", Type: "string", Required: true}},
	}}

	turn, err := client.Think(context.Background(), turns, specs)
	if err != nil {
		t.Fatalf("Think error: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Function.Name != "lookup" {
		t.Errorf("request tools = %+v", gotReq.Tools)
	}
	if req, ok := gotReq.Tools[0].Function.Parameters["required"].([]any); !ok || len(req) != 1 {
		t.Errorf("tool schema required = %v", gotReq.Tools[0].Function.Parameters["required"])
	}

	if turn.Text != "hello there" || len(turn.ToolCalls) != 0 {
		t.Errorf("turn = %+v", turn)
	}
	if turn.Model != "gpt-test-2" || turn.InputTokens != 12 || turn.OutputTokens != 5 {
		t.Errorf("provenance = %q %d/%d", turn.Model, turn.InputTokens, turn.OutputTokens)
	}
}

func TestOpenAI_Think_ToolCalls(t *testing.T) {
	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(oaResponse{
			Model: "gpt-test",
			Choices: []oaChoice{{
				Message: oaMessage{
					Role: "assistant",
					ToolCalls: []oaToolCall{
						{ID: "call_a", Type: "function", Function: oaFunction{Name: "first", Arguments: `{"x":1}`}},
						{ID: "call_b", Type: "function", Function: oaFunction{Name: "second", Arguments: ""}},
					},
				},
				FinishReason: "tool_calls",
			}},
		})
	})

	turn, err := client.Think(context.Background(), []Turn{{Role: RoleUser, Content: "go"}}, nil)
	if err != nil {
		t.Fatalf("Think error: %v", err)
	}

	if len(turn.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %d, want 2", len(turn.ToolCalls))
	}
	if turn.ToolCalls[0].ID != "call_a" || turn.ToolCalls[0].Name != "first" {
		t.Errorf("call[0] = %+v", turn.ToolCalls[0])
	}
	if turn.ToolCalls[0].Arguments["x"] != float64(1) {
		t.Errorf("call[0] args = %v", turn.ToolCalls[0].Arguments)
	}
	// Empty arguments string decodes to an empty map, not nil.
	if turn.ToolCalls[1].Arguments == nil {
		t.Error("call[1] arguments nil")
	}
}

func TestOpenAI_Think_EncodesHistory(t *testing.T) {
	var gotReq oaRequest
	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(oaResponse{
			Choices: []oaChoice{{Message: oaMessage{Role: "assistant", Content: "done"}}},
		})
	})

	turns := []Turn{
		{Role: RoleUser, Content: "run it"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Name: "shell", Arguments: map[string]any{"command": "ls"}},
		}},
		{Role: RoleToolResult, ToolCallID: "call_1", Content: "a.txt"},
	}

	if _, err := client.Think(context.Background(), turns, nil); err != nil {
		t.Fatalf("Think error: %v", err)
	}

	if len(gotReq.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(gotReq.Messages))
	}

	asst := gotReq.Messages[1]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call_1" || asst.ToolCalls[0].Type != "function" {
		t.Errorf("assistant message = %+v", asst)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(asst.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["command"] != "ls" {
		t.Errorf("arguments = %v", args)
	}

	result := gotReq.Messages[2]
	if result.Role != "tool" || result.ToolCallID != "call_1" || result.Content != "a.txt" {
		t.Errorf("tool result message = %+v", result)
	}
}

func TestOpenAI_Think_ProtocolErrors(t *testing.T) {
	cases := []struct {
		name string
		resp oaResponse
	}{
		{"no choices", oaResponse{}},
		{"empty turn", oaResponse{
			Choices: []oaChoice{{Message: oaMessage{Role: "assistant", Content: "  "}}},
		}},
		{"call without id", oaResponse{
			Choices: []oaChoice{{Message: oaMessage{
				Role:      "assistant",
				ToolCalls: []oaToolCall{{Function: oaFunction{Name: "x"}}},
			}}},
		}},
		{"call without name", oaResponse{
			Choices: []oaChoice{{Message: oaMessage{
				Role:      "assistant",
				ToolCalls: []oaToolCall{{ID: "c1"}},
			}}},
		}},
		{"unparseable arguments", oaResponse{
			Choices: []oaChoice{{Message: oaMessage{
				Role:      "assistant",
				ToolCalls: []oaToolCall{{ID: "c1", Function: oaFunction{Name: "x", Arguments: "{broken"}}},
			}}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tc.resp)
			})

			_, err := client.Think(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}, nil)
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("got %v, want *ProtocolError", err)
			}
		})
	}
}

func TestOpenAI_Think_ProviderErrors(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tc := range cases {
		client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "backend says no", tc.status)
		})

		_, err := client.Think(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}}, nil)
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("status %d: got %v, want *ProviderError", tc.status, err)
		}
		if pe.Status != tc.status {
			t.Errorf("status = %d, want %d", pe.Status, tc.status)
		}
		if pe.Retryable != tc.retryable {
			t.Errorf("status %d: Retryable = %v, want %v", tc.status, pe.Retryable, tc.retryable)
		}
	}
}

func TestOpenAI_Ping(t *testing.T) {
	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}

	client = openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := client.Ping(context.Background()); err == nil {
		t.Error("Ping with bad key succeeded")
	}
}
