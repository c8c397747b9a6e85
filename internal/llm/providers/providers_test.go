package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nousworks/nous/internal/backoff"
	"github.com/nousworks/nous/internal/llm"
	"github.com/nousworks/nous/internal/tools"
	"github.com/nousworks/nous/pkg/models"
)

func sampleRequest() *llm.Request {
	return &llm.Request{
		Model:        "gpt-4o",
		Temperature:  0.7,
		MaxTokens:    1024,
		SystemPrompt: "Be helpful.",
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "What's on my calendar?"},
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call_1", Name: "list_events", Arguments: json.RawMessage(`{"day":"today"}`)},
				},
			},
			{Role: models.RoleTool, Name: "list_events", ToolCallID: "call_1", Content: `{"events":[]}`},
		},
		Tools: []tools.FunctionSchema{
			tools.RenderSchema(tools.Descriptor{
				Name:        "list_events",
				Description: "List calendar events",
				Parameters: []tools.Parameter{
					{Name: "day", Type: "string", Required: true, Description: "Which day"},
				},
			}),
		},
	}
}

func TestAvailability(t *testing.T) {
	if NewOpenAI("").Available() {
		t.Error("openai available without key")
	}
	if !NewOpenAI("sk-test").Available() {
		t.Error("openai unavailable with key")
	}
	if NewAnthropic("").Available() {
		t.Error("anthropic available without key")
	}
	if !NewAnthropic("sk-ant-test").Available() {
		t.Error("anthropic unavailable with key")
	}
	if NewOpenRouter("").Available() {
		t.Error("openrouter available without key")
	}
	if NewGoogle(context.Background(), "").Available() {
		t.Error("google available without key")
	}
}

func TestUnavailableCompleteFails(t *testing.T) {
	p := NewOpenAI("")
	_, err := p.Complete(context.Background(), sampleRequest())
	var perm *llm.PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("error %v, want PermanentError", err)
	}
}

func TestBuildOpenAIRequest(t *testing.T) {
	req := buildOpenAIRequest(sampleRequest())

	if req.Model != "gpt-4o" {
		t.Errorf("model %q", req.Model)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("got %d messages, want 4 (system injected)", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || req.Messages[0].Content != "Be helpful." {
		t.Errorf("system message: %+v", req.Messages[0])
	}
	if len(req.Messages[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls: %+v", req.Messages[2])
	}
	tc := req.Messages[2].ToolCalls[0]
	if tc.ID != "call_1" || tc.Function.Name != "list_events" || tc.Function.Arguments != `{"day":"today"}` {
		t.Errorf("tool call: %+v", tc)
	}
	if req.Messages[3].Role != "tool" || req.Messages[3].ToolCallID != "call_1" {
		t.Errorf("tool result message: %+v", req.Messages[3])
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "list_events" {
		t.Errorf("tools: %+v", req.Tools)
	}
}

func TestBuildOpenAIRequestNoDuplicateSystem(t *testing.T) {
	req := buildOpenAIRequest(&llm.Request{
		SystemPrompt: "fallback",
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "primary"},
			{Role: models.RoleUser, Content: "hi"},
		},
	})
	if len(req.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(req.Messages))
	}
	if req.Messages[0].Content != "primary" {
		t.Errorf("system content %q", req.Messages[0].Content)
	}
}

func TestConvertOpenAIResponse(t *testing.T) {
	resp := &openai.ChatCompletionResponse{
		Model: "gpt-4o",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_9",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "search_memory",
						Arguments: `{"query":"x"}`,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	out, err := convertOpenAIResponse(llm.ProviderOpenAI, resp)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.FinishReason != llm.FinishToolCalls {
		t.Errorf("finish reason %s", out.FinishReason)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "search_memory" {
		t.Errorf("tool calls: %+v", out.ToolCalls)
	}
	if out.TotalTokens != 15 {
		t.Errorf("total tokens %d", out.TotalTokens)
	}
}

func TestConvertOpenAIResponseEmpty(t *testing.T) {
	_, err := convertOpenAIResponse(llm.ProviderOpenAI, &openai.ChatCompletionResponse{})
	var malformed *llm.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Errorf("error %v, want MalformedResponseError", err)
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	msgs, system, err := convertAnthropicMessages(sampleRequest().Messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if system != "" {
		t.Errorf("unexpected system %q", system)
	}
	// user, assistant tool_use, tool_result-as-user
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("tool-use message role %s", msgs[1].Role)
	}
	if msgs[2].Role != "user" {
		t.Errorf("tool-result message role %s", msgs[2].Role)
	}
}

func TestConvertAnthropicMessagesSystemExtracted(t *testing.T) {
	_, system, err := convertAnthropicMessages([]models.ChatMessage{
		{Role: models.RoleSystem, Content: "You are Nous."},
		{Role: models.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if system != "You are Nous." {
		t.Errorf("system %q", system)
	}
}

func TestGeminiSchemaConversion(t *testing.T) {
	schema := geminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"query"},
	})

	if string(schema.Type) != "OBJECT" {
		t.Errorf("type %s", schema.Type)
	}
	if string(schema.Properties["query"].Type) != "STRING" {
		t.Errorf("query type %s", schema.Properties["query"].Type)
	}
	if schema.Properties["tags"].Items == nil || string(schema.Properties["tags"].Items.Type) != "STRING" {
		t.Errorf("tags items: %+v", schema.Properties["tags"].Items)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "query" {
		t.Errorf("required %v", schema.Required)
	}
}

func TestCompleteWithRetryPermanentError(t *testing.T) {
	calls := 0
	_, err := completeWithRetry(context.Background(), llm.ProviderOpenAI, func() (*llm.Response, error) {
		calls++
		return nil, errors.New("401 unauthorized")
	})
	if calls != 1 {
		t.Errorf("permanent error retried %d times", calls)
	}
	var perm *llm.PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("error %v, want PermanentError", err)
	}
}

func TestCompleteWithRetryTransientRecovers(t *testing.T) {
	calls := 0
	resp, err := completeWithRetry(context.Background(), llm.ProviderOpenAI, func() (*llm.Response, error) {
		calls++
		if calls == 1 {
			return nil, &llm.TransientError{Provider: llm.ProviderOpenAI, Err: errors.New("429")}
		}
		return &llm.Response{Content: "ok"}, nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if resp.Content != "ok" || calls != 2 {
		t.Errorf("content %q after %d calls", resp.Content, calls)
	}
}

func TestCompleteWithRetryBackoffSchedule(t *testing.T) {
	orig := sleepBackoff
	defer func() { sleepBackoff = orig }()

	var waits []time.Duration
	sleepBackoff = func(ctx context.Context, policy backoff.Policy, attempt int) error {
		waits = append(waits, backoff.ComputeWithRand(policy, attempt, 0))
		return nil
	}

	_, err := completeWithRetry(context.Background(), llm.ProviderOpenAI, func() (*llm.Response, error) {
		return nil, &llm.TransientError{Provider: llm.ProviderOpenAI, Err: errors.New("429")}
	})
	var exhausted *llm.TransientError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %v, want TransientError", err)
	}

	// Exponential: the first retry waits the initial delay, the second
	// waits double.
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("retry %d waited %v, want %v", i+1, waits[i], want[i])
		}
	}
}
