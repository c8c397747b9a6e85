package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nousworks/nous/internal/llm"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider adapts OpenRouter's OpenAI-compatible API. It reuses the
// go-openai client with a different base URL.
type OpenRouterProvider struct {
	client *openai.Client
	apiKey string
}

// NewOpenRouter creates the adapter. An empty API key produces an adapter
// that reports unavailable.
func NewOpenRouter(apiKey string) *OpenRouterProvider {
	var client *openai.Client
	if apiKey != "" {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = openRouterBaseURL
		client = openai.NewClientWithConfig(cfg)
	}
	return &OpenRouterProvider{client: client, apiKey: apiKey}
}

func (p *OpenRouterProvider) Name() llm.ProviderID { return llm.ProviderOpenRouter }

func (p *OpenRouterProvider) Available() bool { return p.apiKey != "" }

// Complete performs a blocking chat completion via OpenRouter.
func (p *OpenRouterProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
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

// Stream returns text fragments as OpenRouter emits them.
func (p *OpenRouterProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
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
