// Package llm provides the multi-provider LLM router: provider adapters
// behind a uniform interface, model selection by complexity, fallback with
// cooldown, and cost accounting.
package llm

import (
	"context"

	"github.com/nousworks/nous/internal/tools"
	"github.com/nousworks/nous/pkg/models"
)

// ProviderID identifies a backing LLM provider.
type ProviderID string

const (
	ProviderOpenAI     ProviderID = "openai"
	ProviderAnthropic  ProviderID = "anthropic"
	ProviderGoogle     ProviderID = "google"
	ProviderOpenRouter ProviderID = "openrouter"
)

// Complexity selects a model tier.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// FinishReason reports why the model stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Request is the uniform completion request handed to the router and
// adapters.
type Request struct {
	Messages     []models.ChatMessage
	Provider     ProviderID // empty means router default
	Model        string     // empty means select by complexity
	Complexity   Complexity // default standard
	Temperature  float64    // default 0.7
	MaxTokens    int        // default 4096
	SystemPrompt string     // prepended if Messages carries no system role
	Tools        []tools.FunctionSchema
	Metadata     map[string]any
}

// Response is the uniform completion response.
type Response struct {
	Content          string
	Provider         ProviderID
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     FinishReason
	ToolCalls        []models.ToolCall
	Raw              any
}

// Chunk is one streamed text fragment. Err is set on a terminal failure;
// the channel closes after the final chunk.
type Chunk struct {
	Text string
	Err  error
}

// Provider adapts one backing LLM API to the uniform request shape.
type Provider interface {
	// Name returns the provider identity.
	Name() ProviderID

	// Available reports whether credentials are configured.
	Available() bool

	// Complete blocks until the provider returns a full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream returns a finite, non-restartable sequence of text fragments.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

func (r *Request) withDefaults() *Request {
	out := *r
	if out.Complexity == "" {
		out.Complexity = ComplexityStandard
	}
	if out.Temperature == 0 {
		out.Temperature = 0.7
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}
	return &out
}
