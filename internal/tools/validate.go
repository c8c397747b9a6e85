package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports arguments that failed schema validation. It is
// returned to the model as a structured error so it can correct the call
// rather than crashing the loop.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Reason)
}

// ValidateArgs checks raw tool-call arguments against the descriptor's
// rendered JSON schema. Empty arguments are treated as an empty object so
// tools without required parameters accept bare calls.
func ValidateArgs(d Descriptor, args json.RawMessage) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}

	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return &ValidationError{Tool: d.Name, Reason: "arguments are not valid JSON"}
	}

	schema, err := compileSchema(d)
	if err != nil {
		// A descriptor that cannot compile is a programming error; fail
		// open rather than blocking the tool.
		return nil
	}
	if err := schema.Validate(value); err != nil {
		return &ValidationError{Tool: d.Name, Reason: err.Error()}
	}
	return nil
}

func compileSchema(d Descriptor) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	url := "tool://" + d.Name + "/parameters.json"
	if err := compiler.AddResource(url, bytes.NewReader(ParametersJSON(d))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
