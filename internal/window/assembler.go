// Package window assembles the token-budgeted message list sent to the LLM:
// system prompt with recalled context, recent history trimmed to budget, and
// the current user message last.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nousworks/nous/internal/memory"
	"github.com/nousworks/nous/pkg/models"
)

const (
	// MaxContextTokens is the total budget for an assembled request.
	MaxContextTokens = 100_000

	// CharsPerToken is the coarse estimator used for budgeting.
	CharsPerToken = 4

	// DefaultHistoryShare is the fraction of the post-system budget given
	// to conversation history.
	DefaultHistoryShare = 0.5

	// DefaultRecallCount is how many recalled snippets go into the system
	// prompt's relevant-context block.
	DefaultRecallCount = 3

	// DefaultHistoryTurns is how many recent turns are fetched before
	// budget trimming.
	DefaultHistoryTurns = 10
)

const defaultSystemTemplate = `You are {assistant_name}, a personal AI assistant for {user_name}.
Be concise, direct, and helpful. Use the available tools when they are needed
to answer accurately. Never include raw tool output or JSON in your replies.`

// Assembler builds fresh message lists per request. It never mutates the
// underlying store.
type Assembler struct {
	store          memory.Store
	logger         *slog.Logger
	AssistantName  string
	UserName       string
	SystemTemplate string
	HistoryShare   float64
	RecallCount    int
	HistoryTurns   int
}

// NewAssembler creates an assembler over the given store.
func NewAssembler(store memory.Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assembler{
		store:          store,
		logger:         logger,
		AssistantName:  "Nous",
		UserName:       "there",
		SystemTemplate: defaultSystemTemplate,
		HistoryShare:   DefaultHistoryShare,
		RecallCount:    DefaultRecallCount,
		HistoryTurns:   DefaultHistoryTurns,
	}
}

// EstimateTokens approximates token count from character length.
func EstimateTokens(text string) int {
	return len(text) / CharsPerToken
}

// Assemble produces the message list for one request: system prompt first,
// budget-trimmed history in order, current user message last.
func (a *Assembler) Assemble(ctx context.Context, userID, currentMessage string) ([]models.ChatMessage, error) {
	systemPrompt := a.buildSystemPrompt(ctx, userID, currentMessage)

	history, err := a.store.RecentConversations(ctx, userID, a.HistoryTurns)
	if err != nil {
		// Degrade to a contextless request rather than failing the turn.
		a.logger.Warn("failed to load history", "user_id", userID, "error", err)
		history = nil
	}

	systemTokens := EstimateTokens(systemPrompt)
	historyBudget := int(float64(MaxContextTokens-systemTokens) * a.HistoryShare)

	trimmed := trimToBudget(history, historyBudget)

	messages := make([]models.ChatMessage, 0, len(trimmed)+2)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: systemPrompt})
	for _, h := range trimmed {
		messages = append(messages, models.ChatMessage{Role: models.Role(h.Role), Content: h.Content})
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: currentMessage})
	return messages, nil
}

func (a *Assembler) buildSystemPrompt(ctx context.Context, userID, currentMessage string) string {
	prompt := strings.ReplaceAll(a.SystemTemplate, "{assistant_name}", a.AssistantName)
	prompt = strings.ReplaceAll(prompt, "{user_name}", a.UserName)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRelevant context:\n")

	snippets, err := a.store.Recall(ctx, userID, currentMessage, a.RecallCount)
	if err != nil {
		a.logger.Warn("memory recall failed", "user_id", userID, "error", err)
		snippets = nil
	}
	if len(snippets) == 0 {
		b.WriteString("No prior context.")
	} else {
		for i, s := range snippets {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "- %s", s.Content)
		}
	}
	return b.String()
}

// trimToBudget drops oldest entries until the remainder fits the budget.
func trimToBudget(history []memory.ConversationEntry, budget int) []memory.ConversationEntry {
	total := 0
	for _, h := range history {
		total += EstimateTokens(h.Content)
	}
	start := 0
	for start < len(history) && total > budget {
		total -= EstimateTokens(history[start].Content)
		start++
	}
	return history[start:]
}
