package session

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxSessions is the per-scope cap on stored sessions. Inserting beyond the
// cap evicts the oldest entry.
const MaxSessions = 20

// maxTitleLen bounds the title derived from the first user message.
const maxTitleLen = 50

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents a persisted chat transcript scoped to a topic
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

var idSeq atomic.Int64

// NewID returns a time-based session identifier, unique within the process.
func NewID() string {
	return fmt.Sprintf("chat_%d_%d", time.Now().UnixMilli(), idSeq.Add(1))
}

// DeriveTitle returns the session title: the first user message truncated
// to 50 characters, or "New Chat" when no user turn exists yet.
func DeriveTitle(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > maxTitleLen {
			return string(runes[:maxTitleLen])
		}
		return m.Content
	}
	return "New Chat"
}
