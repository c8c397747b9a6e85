package providers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nousworks/nous/internal/llm"
	"github.com/nousworks/nous/internal/tools"
	"github.com/nousworks/nous/pkg/models"
)

// AnthropicProvider adapts Anthropic's Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	apiKey string
}

// NewAnthropic creates the adapter. An empty API key produces an adapter
// that reports unavailable.
func NewAnthropic(apiKey string) *AnthropicProvider {
	var client anthropic.Client
	if apiKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: client, apiKey: apiKey}
}

func (p *AnthropicProvider) Name() llm.ProviderID { return llm.ProviderAnthropic }

func (p *AnthropicProvider) Available() bool { return p.apiKey != "" }

// Complete performs a blocking message completion.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if p.apiKey == "" {
		return nil, &llm.PermanentError{Provider: p.Name(), Err: errors.New("no api key configured")}
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	return completeWithRetry(ctx, p.Name(), func() (*llm.Response, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, err
		}
		return p.convertResponse(msg)
	})
}

// Stream returns text fragments from the Messages streaming API. Tool-use
// blocks are not delivered over the streaming path.
func (p *AnthropicProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	if p.apiKey == "" {
		return nil, &llm.PermanentError{Provider: p.Name(), Err: errors.New("no api key configured")}
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan llm.Chunk)
	go func() {
		defer close(chunks)
		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				select {
				case chunks <- llm.Chunk{Text: delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- llm.Chunk{Err: llm.Classify(p.Name(), err)}
		}
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	messages, system, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if system == "" {
		system = req.SystemPrompt
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		toolParams, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}
	return params, nil
}

// convertAnthropicMessages maps the uniform messages to Anthropic's block
// format. System messages are returned separately; tool results become
// tool_result blocks inside user messages, matching the Messages API shape.
func convertAnthropicMessages(messages []models.ChatMessage) ([]anthropic.MessageParam, string, error) {
	var result []anthropic.MessageParam
	var system string

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = msg.Content
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				return nil, "", &llm.MalformedResponseError{
					Provider: llm.ProviderAnthropic,
					Err:      errors.New("invalid tool call arguments in history"),
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, system, nil
}

func convertAnthropicTools(schemas []tools.FunctionSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		raw, err := json.Marshal(s.Function.Parameters)
		if err != nil {
			return nil, err
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, err
		}
		param := anthropic.ToolUnionParamOfTool(schema, s.Function.Name)
		if param.OfTool == nil {
			continue
		}
		param.OfTool.Description = anthropic.String(s.Function.Description)
		result = append(result, param)
	}
	return result, nil
}

func (p *AnthropicProvider) convertResponse(msg *anthropic.Message) (*llm.Response, error) {
	out := &llm.Response{
		Provider:         p.Name(),
		Model:            string(msg.Model),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		Raw:              msg,
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			toolUse := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: json.RawMessage(toolUse.Input),
			})
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		out.FinishReason = llm.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		out.FinishReason = llm.FinishLength
	default:
		out.FinishReason = llm.FinishStop
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	}
	return out, nil
}
