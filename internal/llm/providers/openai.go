package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nousworks/nous/internal/llm"
	"github.com/nousworks/nous/pkg/models"
)

// OpenAIProvider adapts the OpenAI chat completion API.
type OpenAIProvider struct {
	client *openai.Client
	apiKey string
}

// NewOpenAI creates the adapter. An empty API key produces an adapter that
// reports unavailable.
func NewOpenAI(apiKey string) *OpenAIProvider {
	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
	}
	return &OpenAIProvider{client: client, apiKey: apiKey}
}

func (p *OpenAIProvider) Name() llm.ProviderID { return llm.ProviderOpenAI }

func (p *OpenAIProvider) Available() bool { return p.apiKey != "" }

// Complete performs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if p.client == nil {
		return nil, &llm.PermanentError{Provider: p.Name(), Err: errors.New("no api key configured")}
	}
	chatReq := buildOpenAIRequest(req)

	return completeWithRetry(ctx, p.Name(), func() (*llm.Response, error) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, err
		}
		return convertOpenAIResponse(p.Name(), &resp)
	})
}

// Stream returns text fragments as the provider emits them. Tool calls are
// not delivered over the streaming path.
func (p *OpenAIProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	if p.client == nil {
		return nil, &llm.PermanentError{Provider: p.Name(), Err: errors.New("no api key configured")}
	}
	chatReq := buildOpenAIRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, llm.Classify(p.Name(), err)
	}

	chunks := make(chan llm.Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				chunks <- llm.Chunk{Err: llm.Classify(p.Name(), err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				select {
				case chunks <- llm.Chunk{Text: text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return chunks, nil
}

// buildOpenAIRequest converts the uniform request to go-openai's shape. It is
// shared with the OpenRouter adapter, which speaks the same wire format.
func buildOpenAIRequest(req *llm.Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" && !hasSystemMessage(req.Messages) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.ToolCalls) > 0 {
			m.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				m.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}
		messages = append(messages, m)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = make([]openai.Tool, len(req.Tools))
		for i, t := range req.Tools {
			params := t.Function.Parameters
			chatReq.Tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  params,
				},
			}
		}
	}
	return chatReq
}

func convertOpenAIResponse(provider llm.ProviderID, resp *openai.ChatCompletionResponse) (*llm.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, &llm.MalformedResponseError{Provider: provider, Err: errors.New("response has no choices")}
	}
	choice := resp.Choices[0]

	out := &llm.Response{
		Content:          choice.Message.Content,
		Provider:         provider,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		FinishReason:     convertOpenAIFinishReason(choice.FinishReason),
		Raw:              resp,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	}
	return out, nil
}

func convertOpenAIFinishReason(reason openai.FinishReason) llm.FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return llm.FinishStop
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.FinishToolCalls
	case openai.FinishReasonLength:
		return llm.FinishLength
	default:
		return llm.FinishStop
	}
}

func hasSystemMessage(messages []models.ChatMessage) bool {
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			return true
		}
	}
	return false
}
