package conversation

import (
	"errors"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	c := New("alice", "docs")
	if c.ID == "" {
		t.Error("ID not assigned")
	}
	if c.UserID != "alice" || c.SectorID != "docs" {
		t.Errorf("got user=%q sector=%q", c.UserID, c.SectorID)
	}
	if c.HasMessages() {
		t.Error("new conversation should have no messages")
	}
	if c.IsDeleted() {
		t.Error("new conversation should not be deleted")
	}
}

func TestAddMessage(t *testing.T) {
	c := New("alice", "docs")
	before := c.UpdatedAt

	msg, err := c.AddMessage(RoleUser, "hello", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if msg.ConversationID != c.ID {
		t.Errorf("message conversation ID = %q, want %q", msg.ConversationID, c.ID)
	}
	if msg.Role != RoleUser || msg.Content != "hello" {
		t.Errorf("got role=%q content=%q", msg.Role, msg.Content)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if c.UpdatedAt.Before(before) {
		t.Error("UpdatedAt not advanced")
	}
	if !c.HasMessages() {
		t.Error("HasMessages = false after append")
	}
}

func TestAddMessage_InvalidRole(t *testing.T) {
	c := New("alice", "docs")
	_, err := c.AddMessage(Role("moderator"), "hi", nil)
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("got %v, want ErrInvalidRole", err)
	}
	if c.HasMessages() {
		t.Error("invalid message was appended")
	}
}

func TestAddMessage_AppendOnlyOrder(t *testing.T) {
	c := New("alice", "docs")
	contents := []string{"first", "second", "third"}
	for _, content := range contents {
		if _, err := c.AddMessage(RoleUser, content, nil); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	for i, m := range c.Messages {
		if m.Content != contents[i] {
			t.Errorf("message %d = %q, want %q", i, m.Content, contents[i])
		}
	}
}

func TestLastMessages(t *testing.T) {
	c := New("alice", "docs")
	for _, content := range []string{"a", "b", "c", "d"} {
		c.AddMessage(RoleUser, content, nil)
	}

	last := c.LastMessages(2)
	if len(last) != 2 {
		t.Fatalf("got %d messages, want 2", len(last))
	}
	if last[0].Content != "c" || last[1].Content != "d" {
		t.Errorf("got %q, %q", last[0].Content, last[1].Content)
	}

	if got := c.LastMessages(10); len(got) != 4 {
		t.Errorf("LastMessages(10) = %d messages, want 4", len(got))
	}
	if got := c.LastMessages(0); got != nil {
		t.Errorf("LastMessages(0) = %v, want nil", got)
	}
}

func TestContextForPrompt(t *testing.T) {
	c := New("alice", "docs")
	if got := c.ContextForPrompt(10); got != "" {
		t.Errorf("empty conversation context = %q, want empty", got)
	}

	c.AddMessage(RoleUser, "what is Go?", nil)
	c.AddMessage(RoleAssistant, "a programming language", nil)

	want := "User: what is Go?\nAssistant: a programming language"
	if got := c.ContextForPrompt(10); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Limit keeps only the trailing messages.
	if got := c.ContextForPrompt(1); got != "Assistant: a programming language" {
		t.Errorf("limited context = %q", got)
	}
}

func TestIsActive(t *testing.T) {
	c := New("alice", "docs")
	if !c.IsActive(time.Hour) {
		t.Error("empty conversation should be active")
	}

	c.AddMessage(RoleUser, "hello", nil)
	if !c.IsActive(time.Hour) {
		t.Error("fresh message should be within window")
	}

	c.Messages[0].CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	if c.IsActive(time.Hour) {
		t.Error("stale message should be outside window")
	}

	// Non-positive window falls back to the default.
	if !c.IsActive(0) {
		t.Error("2h-old message should be within the default window")
	}
}
