// Package conversation models a multi-turn exchange between a user and the
// assistant within one sector. The aggregate is pure in-memory state: it is
// owned by a single orchestrator for the duration of one request, and
// persistence is an explicit save through the storage package.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRole is returned when a message carries an unknown role.
var ErrInvalidRole = errors.New("invalid role")

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultRecencyWindow is how long after its last message a conversation
// is still considered active.
const DefaultRecencyWindow = 24 * time.Hour

// Message is one turn in a conversation. Immutable once created; the ID is
// assigned on persist.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Conversation is the aggregate root. Messages is append-only: no message
// is ever removed or reordered.
type Conversation struct {
	ID        string
	UserID    string
	SectorID  string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// New creates an empty conversation for a (user, sector) pair.
func New(userID, sectorID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		SectorID:  sectorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message and advances UpdatedAt. Metadata may be nil.
func (c *Conversation) AddMessage(role Role, content string, metadata map[string]string) (*Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := time.Now().UTC()
	c.Messages = append(c.Messages, Message{
		ConversationID: c.ID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      now,
	})
	c.UpdatedAt = now
	return &c.Messages[len(c.Messages)-1], nil
}

// HasMessages reports whether any message has been appended.
func (c *Conversation) HasMessages() bool {
	return len(c.Messages) > 0
}

// LastMessages returns the trailing n messages in chronological order.
func (c *Conversation) LastMessages(n int) []Message {
	if n <= 0 || len(c.Messages) == 0 {
		return nil
	}
	if n > len(c.Messages) {
		n = len(c.Messages)
	}
	return c.Messages[len(c.Messages)-n:]
}

// ContextForPrompt renders the most recent limit messages as
// "Role: content" lines, oldest first. Returns "" for an empty conversation.
func (c *Conversation) ContextForPrompt(limit int) string {
	msgs := c.LastMessages(limit)
	if len(msgs) == 0 {
		return ""
	}

	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = roleLabel(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// IsActive reports whether the most recent message falls within the recency
// window. A conversation with no messages is freshly created and active.
// A non-positive window falls back to DefaultRecencyWindow.
func (c *Conversation) IsActive(window time.Duration) bool {
	if len(c.Messages) == 0 {
		return true
	}
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	last := c.Messages[len(c.Messages)-1]
	return time.Since(last.CreatedAt) < window
}

// IsDeleted reports whether the conversation has been soft-deleted.
func (c *Conversation) IsDeleted() bool {
	return c.DeletedAt != nil
}

func roleLabel(r Role) string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	}
	return string(r)
}
