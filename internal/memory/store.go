// Package memory persists conversation history and supports keyword recall
// for the context assembler.
package memory

import (
	"context"
	"time"
)

// ConversationEntry is one persisted conversation turn.
type ConversationEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Channel   string    `json:"channel,omitempty"`
	Model     string    `json:"model,omitempty"`
	Tokens    int       `json:"tokens,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Snippet is a recalled piece of prior conversation with a relevance score.
type Snippet struct {
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversation turns and recalls relevant history.
type Store interface {
	// AppendConversation records one turn for a user.
	AppendConversation(ctx context.Context, entry ConversationEntry) error

	// RecentConversations returns up to limit turns for a user, oldest first.
	RecentConversations(ctx context.Context, userID string, limit int) ([]ConversationEntry, error)

	// Recall returns up to n snippets relevant to the query, best first.
	Recall(ctx context.Context, userID, query string, n int) ([]Snippet, error)

	// Close releases underlying resources.
	Close() error
}
