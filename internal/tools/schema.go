package tools

import "encoding/json"

// FunctionSchema is the provider-facing "function-calling" tool shape.
// Anthropic, OpenAI, and OpenRouter consume this directly; other adapters
// translate it into their native format.
type FunctionSchema struct {
	Type     string         `json:"type"`
	Function FunctionDetail `json:"function"`
}

// FunctionDetail holds the function name, description, and JSON-Schema
// parameter object.
type FunctionDetail struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// RenderSchemas renders every registered descriptor to the function-calling
// shape in registration order.
func (r *Registry) RenderSchemas() []FunctionSchema {
	descriptors := r.ListAll()
	out := make([]FunctionSchema, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, RenderSchema(d))
	}
	return out
}

// RenderSchema converts one descriptor to the function-calling shape.
func RenderSchema(d Descriptor) FunctionSchema {
	properties := make(map[string]any, len(d.Parameters))
	var required []string

	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        jsonSchemaType(p.Type),
			"description": p.Description,
		}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		if p.Default != "" && p.Default != "null" {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	parameters := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		parameters["required"] = required
	}

	return FunctionSchema{
		Type: "function",
		Function: FunctionDetail{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  parameters,
		},
	}
}

// ParametersJSON returns the descriptor's JSON-Schema parameter object as
// raw JSON, for adapters that want the schema document itself.
func ParametersJSON(d Descriptor) json.RawMessage {
	data, err := json.Marshal(RenderSchema(d).Function.Parameters)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}

func jsonSchemaType(t string) string {
	switch t {
	case "string", "integer", "boolean", "number", "array":
		return t
	default:
		return "string"
	}
}
