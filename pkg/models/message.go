package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is the unified conversation message format shared between the
// orchestrator, the LLM router, and the memory store. Messages are immutable
// once appended to history; producers create new values rather than mutating.
type ChatMessage struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallOutcome records the result of executing a single tool call,
// including how long the handler ran. Either ResultJSON or ErrorText is set.
type ToolCallOutcome struct {
	ToolCallID string        `json:"tool_call_id"`
	ToolName   string        `json:"tool_name"`
	ResultJSON string        `json:"result_json,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
}

// SessionContext carries the per-request identity handed to tool handlers.
type SessionContext struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
}
