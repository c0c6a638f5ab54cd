// Package memory – sessions.go persists conversation sessions in the memory
// database and renders them as transcripts for indexing.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationEntry is one user/assistant exchange.
type ConversationEntry struct {
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	Timestamp         time.Time `json:"timestamp"`
}

// Session is a stored conversation.
type Session struct {
	ID        string              `json:"id"`
	Title     string              `json:"title,omitempty"`
	Channel   string              `json:"channel,omitempty"`
	ChatID    string              `json:"chat_id,omitempty"`
	Entries   []ConversationEntry `json:"entries"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SessionInfo is a session listing row without its entries.
type SessionInfo struct {
	ID         string    `json:"id"`
	Title      string    `json:"title,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	EntryCount int       `json:"entry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewSession returns an empty session with a fresh id.
func NewSession(channel, chatID string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    chatID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TranscriptPath is the virtual workspace path a session is indexed under.
func (s *Session) TranscriptPath() string {
	return "sessions/" + s.ID + ".md"
}

// Transcript renders the session as markdown.
func (s *Session) Transcript() string {
	var b strings.Builder
	title := s.Title
	if title == "" {
		title = "Session " + s.ID
	}
	fmt.Fprintf(&b, "# %s\n", title)
	if s.Channel != "" {
		fmt.Fprintf(&b, "Channel: %s", s.Channel)
		if s.ChatID != "" {
			fmt.Fprintf(&b, " (%s)", s.ChatID)
		}
		b.WriteString("\n")
	}
	for _, e := range s.Entries {
		fmt.Fprintf(&b, "\n## %s\n", e.Timestamp.UTC().Format("2006-01-02 15:04"))
		if e.UserMessage != "" {
			fmt.Fprintf(&b, "User: %s\n", strings.TrimSpace(e.UserMessage))
		}
		if e.AssistantResponse != "" {
			fmt.Fprintf(&b, "Assistant: %s\n", strings.TrimSpace(e.AssistantResponse))
		}
	}
	return b.String()
}

// SaveSession upserts a session. A missing id is generated.
func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	entries := sess.Entries
	if entries == nil {
		entries = []ConversationEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal session entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, channel, chat_id, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, channel = excluded.channel, chat_id = excluded.chat_id,
			messages = excluded.messages, updated_at = excluded.updated_at`,
		sess.ID, sess.Title, sess.Channel, sess.ChatID, string(raw),
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli())
	if err != nil {
		return storageErr("save session", err)
	}
	return nil
}

// LoadSession reads a session by id. Unknown ids return ErrSessionNotFound.
func (s *Store) LoadSession(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sess             Session
		raw              string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, channel, chat_id, messages, created_at, updated_at
		FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Title, &sess.Channel, &sess.ChatID, &raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, storageErr("load session", err)
	}
	if err := json.Unmarshal([]byte(raw), &sess.Entries); err != nil {
		return nil, &ParseError{What: "session " + id, Err: err}
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.UpdatedAt = time.UnixMilli(updated)
	return &sess, nil
}

// ListSessions returns sessions updated at or after since, newest first.
// A zero since lists everything; limit <= 0 means no limit.
func (s *Store) ListSessions(ctx context.Context, since time.Time, limit int) ([]SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, title, channel, chat_id, json_array_length(messages), created_at, updated_at
		FROM sessions WHERE updated_at >= ?
		ORDER BY updated_at DESC`
	args := []any{int64(0)}
	if !since.IsZero() {
		args[0] = since.UnixMilli()
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var created, updated int64
		if err := rows.Scan(&info.ID, &info.Title, &info.Channel, &info.ChatID,
			&info.EntryCount, &created, &updated); err != nil {
			return nil, storageErr("list sessions", err)
		}
		info.CreatedAt = time.UnixMilli(created)
		info.UpdatedAt = time.UnixMilli(updated)
		out = append(out, info)
	}
	return out, storageErr("list sessions", rows.Err())
}

// DeleteSession removes a session. Deleting an unknown id is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return storageErr("delete session", err)
	}
	return nil
}
