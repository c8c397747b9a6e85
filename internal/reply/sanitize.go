// Package reply provides post-processing for assistant-facing reply text:
// stripping structured-data leakage from model output and chunking long
// replies for channel delivery.
package reply

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceOpenRe = regexp.MustCompile("^```([A-Za-z0-9]*)\\s*$")

	// toolEchoRe matches lines where the model echoes raw tool output back
	// into the text channel.
	toolEchoRe = regexp.MustCompile(`(?i)^\s*(tool output|tool result|function output|function result)\s*:`)

	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// Sanitize removes structured data leaking through the text channel: fenced
// JSON blocks, bare whole-line JSON objects, and echoed tool-output lines.
// Runs of three or more newlines are collapsed to two. The function is
// idempotent and preserves prose braces such as "{name}" placeholders;
// only candidates that round-trip through JSON decoding are removed.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := fenceOpenRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			info := strings.ToLower(m[1])
			if info == "" || info == "json" || info == "jsonc" {
				if end, body := findFenceEnd(lines, i+1); end >= 0 && decodesAsJSONContainer(body) {
					i = end
					continue
				}
			}
		}

		if toolEchoRe.MatchString(line) {
			continue
		}

		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			if end := findJSONObjectEnd(lines, i); end >= 0 {
				i = end
				continue
			}
		}

		kept = append(kept, line)
	}

	out := strings.Join(kept, "\n")
	out = multiNewlineRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// findFenceEnd locates the closing ``` for a fence opened just before start.
// Returns the closing line index and the fence body, or -1 if unterminated.
func findFenceEnd(lines []string, start int) (int, string) {
	for j := start; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == "```" {
			return j, strings.Join(lines[start:j], "\n")
		}
	}
	return -1, ""
}

// findJSONObjectEnd returns the index of the last line of a bare JSON object
// starting at line start, or -1 if the lines do not form a JSON object.
// The candidate must occupy whole lines and actually decode as JSON.
func findJSONObjectEnd(lines []string, start int) int {
	var sb strings.Builder
	for j := start; j < len(lines); j++ {
		if j > start {
			sb.WriteString("\n")
		}
		sb.WriteString(lines[j])
		candidate := strings.TrimSpace(sb.String())
		if !strings.HasSuffix(candidate, "}") {
			continue
		}
		if decodesAsJSONObject(candidate) {
			return j
		}
	}
	return -1
}

func decodesAsJSONObject(s string) bool {
	var v map[string]any
	return json.Unmarshal([]byte(s), &v) == nil
}

// decodesAsJSONContainer reports whether s parses as a JSON object or array.
func decodesAsJSONContainer(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "[") {
		var v []any
		return json.Unmarshal([]byte(s), &v) == nil
	}
	return decodesAsJSONObject(s)
}

// UnwrapResponseField unwraps legacy payloads where the model emits a JSON
// object with a "response" field instead of plain text. Returns the inner
// text when the input is such an object, otherwise the input unchanged.
func UnwrapResponseField(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return text
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return text
	}
	if inner, ok := payload["response"].(string); ok {
		return inner
	}
	return text
}
