package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/nousworks/nous/internal/llm"
	"github.com/nousworks/nous/internal/tools"
	"github.com/nousworks/nous/pkg/models"
)

// GoogleProvider adapts the Gemini API via google.golang.org/genai.
type GoogleProvider struct {
	client *genai.Client
	apiKey string
}

// NewGoogle creates the adapter. An empty API key produces an adapter that
// reports unavailable; client construction errors do too.
func NewGoogle(ctx context.Context, apiKey string) *GoogleProvider {
	p := &GoogleProvider{apiKey: apiKey}
	if apiKey == "" {
		return p
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		p.apiKey = ""
		return p
	}
	p.client = client
	return p
}

func (p *GoogleProvider) Name() llm.ProviderID { return llm.ProviderGoogle }

func (p *GoogleProvider) Available() bool { return p.apiKey != "" && p.client != nil }

// Complete performs a blocking content generation.
func (p *GoogleProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if !p.Available() {
		return nil, &llm.PermanentError{Provider: p.Name(), Err: errors.New("no api key configured")}
	}
	contents, config := p.buildRequest(req)

	return completeWithRetry(ctx, p.Name(), func() (*llm.Response, error) {
		resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
		if err != nil {
			return nil, err
		}
		return p.convertResponse(req.Model, resp)
	})
}

// Stream returns text fragments from the streaming generation API.
func (p *GoogleProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	if !p.Available() {
		return nil, &llm.PermanentError{Provider: p.Name(), Err: errors.New("no api key configured")}
	}
	contents, config := p.buildRequest(req)

	chunks := make(chan llm.Chunk)
	go func() {
		defer close(chunks)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				chunks <- llm.Chunk{Err: llm.Classify(p.Name(), err)}
				return
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						select {
						case chunks <- llm.Chunk{Text: part.Text}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()
	return chunks, nil
}

func (p *GoogleProvider) buildRequest(req *llm.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}

	system := req.SystemPrompt
	var contents []*genai.Content
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			system = msg.Content
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.Name,
					Response: response,
				},
			})
		} else if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal(tc.Arguments, &args)
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				},
			})
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	temp := float32(req.Temperature)
	config.Temperature = &temp

	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
	}
	return contents, config
}

func convertGeminiTools(schemas []tools.FunctionSchema) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        s.Function.Name,
			Description: s.Function.Description,
			Parameters:  geminiSchema(s.Function.Parameters),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON-Schema map to Gemini's Schema type. Gemini
// uses uppercase type names.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(subMap)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	switch required := schemaMap["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func (p *GoogleProvider) convertResponse(model string, resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &llm.MalformedResponseError{Provider: p.Name(), Err: errors.New("response has no candidates")}
	}
	candidate := resp.Candidates[0]

	out := &llm.Response{
		Provider:     p.Name(),
		Model:        model,
		FinishReason: llm.FinishStop,
		Raw:          resp,
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	out.Content = text.String()

	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		out.FinishReason = llm.FinishLength
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	}
	return out, nil
}
