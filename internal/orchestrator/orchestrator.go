// Package orchestrator drives the tool-calling loop: assemble context, call
// the router, dispatch tool calls sequentially, and sanitize the final reply.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nousworks/nous/internal/audit"
	"github.com/nousworks/nous/internal/errlog"
	"github.com/nousworks/nous/internal/llm"
	"github.com/nousworks/nous/internal/memory"
	"github.com/nousworks/nous/internal/observability"
	"github.com/nousworks/nous/internal/reply"
	"github.com/nousworks/nous/internal/tools"
	"github.com/nousworks/nous/internal/window"
	"github.com/nousworks/nous/pkg/models"
)

// MaxToolIterations bounds the tool-call cycle per request.
const MaxToolIterations = 15

// iterationCapMessage is the reply when the loop exits on the cap without a
// plain-text answer.
const iterationCapMessage = "I was unable to finish this task within the step budget."

// exhaustionMessage is the user-facing reply when every provider failed.
const exhaustionMessage = "I'm having trouble processing your request. Please try again."

// Router is the completion surface the orchestrator needs.
type Router interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Result is the outcome of processing one user message.
type Result struct {
	Response   string
	Chunks     []string
	ToolCalls  []models.ToolCallOutcome
	Iterations int
	TokensUsed int
	Model      string
}

// Orchestrator coordinates one message turn end to end.
type Orchestrator struct {
	router    Router
	registry  *tools.Registry
	assembler *window.Assembler
	store     memory.Store
	errors    *errlog.Collector
	auditLog  *audit.Logger
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Config wires the orchestrator's collaborators. Router, Registry,
// Assembler, and Store are required; the rest are optional.
type Config struct {
	Router    Router
	Registry  *tools.Registry
	Assembler *window.Assembler
	Store     memory.Store
	Errors    *errlog.Collector
	Audit     *audit.Logger
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		router:    cfg.Router,
		registry:  cfg.Registry,
		assembler: cfg.Assembler,
		store:     cfg.Store,
		errors:    cfg.Errors,
		auditLog:  cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// ProcessMessage runs the tool loop for one inbound user message.
//
// Tool handlers run sequentially in the order the model emitted them.
// On cancellation the loop aborts at the next router or handler call;
// already-executed side effects are not undone and the partial assistant
// state is not persisted.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userID, text, channel string) (*Result, error) {
	sess := models.SessionContext{UserID: userID, Channel: channel}

	if err := o.store.AppendConversation(ctx, memory.ConversationEntry{
		UserID:  userID,
		Role:    string(models.RoleUser),
		Content: text,
		Channel: channel,
	}); err != nil {
		o.logger.Warn("failed to persist user message", "user_id", userID, "error", err)
	}

	messages, err := o.assembler.Assemble(ctx, userID, text)
	if err != nil {
		return nil, err
	}
	req := &llm.Request{
		Messages: messages,
		Tools:    o.registry.RenderSchemas(),
		Metadata: map[string]any{"user_id": userID, "channel": channel},
	}

	var (
		finalText  string
		outcomes   []models.ToolCallOutcome
		iteration  int
		total      int
		finalModel string
	)

	for iteration < MaxToolIterations {
		resp, err := o.router.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var exhausted *llm.AllProvidersExhaustedError
			if errors.As(err, &exhausted) {
				o.logger.Error("all providers exhausted", "user_id", userID, "error", err)
				if o.errors != nil {
					o.errors.Record("llm_router", err.Error(), "", userID, channel)
				}
				return &Result{
					Response:   exhaustionMessage,
					Chunks:     []string{exhaustionMessage},
					Iterations: iteration,
				}, nil
			}
			return nil, err
		}

		// iteration counts router invocations, including the final one
		// that produced a plain answer.
		iteration++
		total += resp.TotalTokens
		finalModel = resp.Model

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Content
			break
		}

		req.Messages = append(req.Messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			outcome := o.executeTool(ctx, call, sess)
			outcomes = append(outcomes, outcome)

			content := outcome.ResultJSON
			if outcome.ErrorText != "" {
				content = errorResultJSON(outcome.ErrorText)
			}
			req.Messages = append(req.Messages, models.ChatMessage{
				Role:       models.RoleTool,
				Name:       call.Name,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	if finalText == "" && iteration >= MaxToolIterations {
		finalText = iterationCapMessage
	}

	// Unwrap before sanitizing: a bare {"response": ...} payload is a
	// legacy reply format, not leakage, and the sanitizer would strip it.
	finalText = reply.UnwrapResponseField(finalText)
	finalText = reply.Sanitize(finalText)

	if err := o.store.AppendConversation(ctx, memory.ConversationEntry{
		UserID:  userID,
		Role:    string(models.RoleAssistant),
		Content: finalText,
		Channel: channel,
		Model:   finalModel,
		Tokens:  total,
	}); err != nil {
		o.logger.Warn("failed to persist assistant message", "user_id", userID, "error", err)
	}

	if o.auditLog != nil {
		o.auditLog.Log("message_processed", map[string]any{
			"user_id":            userID,
			"channel":            channel,
			"tools_called_count": len(outcomes),
			"tokens":             total,
			"iterations":         iteration,
		})
	}

	return &Result{
		Response:   finalText,
		Chunks:     reply.Chunk(finalText, reply.DefaultChunkLimit),
		ToolCalls:  outcomes,
		Iterations: iteration,
		TokensUsed: total,
		Model:      finalModel,
	}, nil
}

// executeTool dispatches one tool call. Unknown tools and handler failures
// become structured error results fed back to the model rather than
// aborting the turn.
func (o *Orchestrator) executeTool(ctx context.Context, call models.ToolCall, sess models.SessionContext) models.ToolCallOutcome {
	outcome := models.ToolCallOutcome{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	descriptor, ok := o.registry.Get(call.Name)
	if !ok {
		outcome.ErrorText = "unknown tool"
		o.observeTool(call.Name, "error", 0)
		return outcome
	}
	handler, _ := o.registry.Handler(call.Name)

	if err := tools.ValidateArgs(descriptor, call.Arguments); err != nil {
		outcome.ErrorText = err.Error()
		o.recordToolError(call, err, sess)
		o.observeTool(call.Name, "error", 0)
		return outcome
	}

	start := time.Now()
	result, err := handler(ctx, call.Arguments, sess)
	outcome.Duration = time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled calls are not recorded as tool failures.
			outcome.ErrorText = err.Error()
			return outcome
		}
		outcome.ErrorText = err.Error()
		o.recordToolError(call, err, sess)
		o.observeTool(call.Name, "error", outcome.Duration)
		return outcome
	}

	data, err := json.Marshal(result)
	if err != nil {
		outcome.ErrorText = "tool result not serializable"
		o.recordToolError(call, err, sess)
		o.observeTool(call.Name, "error", outcome.Duration)
		return outcome
	}
	outcome.ResultJSON = string(data)
	o.observeTool(call.Name, "success", outcome.Duration)
	return outcome
}

func (o *Orchestrator) recordToolError(call models.ToolCall, err error, sess models.SessionContext) {
	o.logger.Warn("tool execution failed",
		"tool", call.Name, "user_id", sess.UserID, "error", err)
	if o.errors != nil {
		o.errors.Record(call.Name, err.Error(), string(call.Arguments), sess.UserID, sess.Channel)
	}
}

func (o *Orchestrator) observeTool(name, status string, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	if status == "success" || elapsed > 0 {
		o.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

func errorResultJSON(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(data)
}
