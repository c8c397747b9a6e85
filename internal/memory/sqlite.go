package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. Pass ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Concurrent writers on one connection avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			channel TEXT,
			model TEXT,
			tokens INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create conversations table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// AppendConversation records one turn for a user.
func (s *SQLiteStore) AppendConversation(ctx context.Context, entry ConversationEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, role, content, channel, model, tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.UserID, entry.Role, entry.Content, entry.Channel, entry.Model, entry.Tokens, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// RecentConversations returns up to limit turns for a user, oldest first.
func (s *SQLiteStore) RecentConversations(ctx context.Context, userID string, limit int) ([]ConversationEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, channel, model, tokens, created_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var entries []ConversationEntry
	for rows.Next() {
		var e ConversationEntry
		var channel, model sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Role, &e.Content, &channel, &model, &e.Tokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		e.Channel = channel.String
		e.Model = model.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first; callers want chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Recall returns up to n snippets relevant to the query, scored by keyword
// overlap with recency as a tiebreaker.
func (s *SQLiteStore) Recall(ctx context.Context, userID, query string, n int) ([]Snippet, error) {
	if n <= 0 {
		n = 3
	}
	terms := keywordTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	// Pull a recent window, score in memory. Fine at personal-assistant scale.
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, created_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 500
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query for recall: %w", err)
	}
	defer rows.Close()

	var candidates []Snippet
	for rows.Next() {
		var sn Snippet
		if err := rows.Scan(&sn.Content, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snippet: %w", err)
		}
		sn.Score = keywordScore(sn.Content, terms)
		if sn.Score > 0 {
			candidates = append(candidates, sn)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable insertion keeps the recency order for equal scores.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Score > candidates[j-1].Score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func keywordTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

func keywordScore(content string, terms []string) float64 {
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return float64(matched) / float64(len(terms))
}
