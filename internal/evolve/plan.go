// Package evolve implements the evolution engine: plan a code change with
// the LLM, apply it under the safety guard, test, and commit or roll back.
package evolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ChangeAction is what a plan change does to a file.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionModify ChangeAction = "modify"
)

// Change is one file operation in a plan.
type Change struct {
	Action      ChangeAction `json:"action"`
	File        string       `json:"file"`
	Description string       `json:"description"`
	Content     string       `json:"content,omitempty"`
	OldText     string       `json:"old_text,omitempty"`
	NewText     string       `json:"new_text,omitempty"`
}

// Plan is the model's proposed implementation of an improvement request.
type Plan struct {
	Summary         string   `json:"summary"`
	Changes         []Change `json:"changes"`
	TestSuggestions []string `json:"test_suggestions"`
	Risk            string   `json:"risk"`
}

// ParsePlan decodes a plan from raw model output. Markdown fences are
// stripped first; if the remainder is not valid JSON, the first balanced
// {...} substring is tried.
func ParsePlan(raw string) (*Plan, error) {
	text := stripFences(strings.TrimSpace(raw))

	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err == nil {
		return validatePlan(&plan)
	}

	candidate, ok := firstJSONObject(text)
	if !ok {
		return nil, errors.New("plan response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		return nil, fmt.Errorf("plan JSON is malformed: %w", err)
	}
	return validatePlan(&plan)
}

func validatePlan(p *Plan) (*Plan, error) {
	for i, c := range p.Changes {
		if c.File == "" {
			return nil, fmt.Errorf("change %d has no file", i)
		}
		switch c.Action {
		case ActionCreate:
			if c.Content == "" {
				return nil, fmt.Errorf("create change for %s has no content", c.File)
			}
		case ActionModify:
			if c.OldText == "" {
				return nil, fmt.Errorf("modify change for %s has no old_text", c.File)
			}
		default:
			return nil, fmt.Errorf("change %d has unknown action %q", i, c.Action)
		}
	}
	return p, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	// Drop the opening fence line and a trailing fence if present.
	lines = lines[1:]
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// firstJSONObject extracts the first balanced top-level {...} substring,
// respecting strings and escapes.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
