package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nousworks/nous/internal/errlog"
	"github.com/nousworks/nous/internal/memory"
	"github.com/nousworks/nous/internal/tools"
	"github.com/nousworks/nous/pkg/models"
)

// registerBuiltinTools wires the fixed tool set the model can call.
func registerBuiltinTools(registry *tools.Registry, store memory.Store, collector *errlog.Collector) {
	registry.Register(tools.Descriptor{
		Name:        "search_memory",
		Category:    "memory",
		Description: "Search past conversations for relevant context",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Required: true, Description: "What to search for"},
			{Name: "limit", Type: "integer", Default: "3", Description: "Maximum snippets to return"},
		},
		Examples: []string{`search_memory({"query": "dentist appointment"})`},
	}, func(ctx context.Context, args json.RawMessage, sess models.SessionContext) (any, error) {
		var params struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, err
		}
		snippets, err := store.Recall(ctx, sess.UserID, params.Query, params.Limit)
		if err != nil {
			return nil, err
		}
		results := make([]string, 0, len(snippets))
		for _, s := range snippets {
			results = append(results, s.Content)
		}
		return map[string]any{"results": results}, nil
	})

	registry.Register(tools.Descriptor{
		Name:        "recent_conversations",
		Category:    "memory",
		Description: "Fetch the user's most recent conversation turns",
		Parameters: []tools.Parameter{
			{Name: "limit", Type: "integer", Default: "10", Description: "How many turns"},
		},
	}, func(ctx context.Context, args json.RawMessage, sess models.SessionContext) (any, error) {
		var params struct {
			Limit int `json:"limit"`
		}
		_ = json.Unmarshal(args, &params)
		entries, err := store.RecentConversations(ctx, sess.UserID, params.Limit)
		if err != nil {
			return nil, err
		}
		turns := make([]map[string]string, 0, len(entries))
		for _, e := range entries {
			turns = append(turns, map[string]string{"role": e.Role, "content": e.Content})
		}
		return map[string]any{"turns": turns}, nil
	})

	registry.Register(tools.Descriptor{
		Name:        "current_time",
		Category:    "utility",
		Description: "Get the current date and time",
	}, func(ctx context.Context, args json.RawMessage, sess models.SessionContext) (any, error) {
		now := time.Now()
		return map[string]string{
			"iso":     now.Format(time.RFC3339),
			"weekday": now.Weekday().String(),
		}, nil
	})

	registry.Register(tools.Descriptor{
		Name:        "error_summary",
		Category:    "diagnostics",
		Description: "Summarize recent tool errors for self-diagnosis",
	}, func(ctx context.Context, args json.RawMessage, sess models.SessionContext) (any, error) {
		return collector.Summarize(), nil
	})
}
