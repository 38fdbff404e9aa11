package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sagekb/sage/internal/conversation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveConversation_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := conversation.New("alice", "docs")
	c.AddMessage(conversation.RoleUser, "hello", nil)
	c.AddMessage(conversation.RoleAssistant, "hi there", map[string]string{"source_count": "2"})

	if err := s.SaveConversation(ctx, c); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	// Persisting assigns IDs in place.
	for i, m := range c.Messages {
		if m.ID == "" {
			t.Errorf("message %d has no ID after save", i)
		}
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.UserID != "alice" || got.SectorID != "docs" {
		t.Errorf("got user=%q sector=%q", got.UserID, got.SectorID)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].Content != "hello" || got.Messages[1].Content != "hi there" {
		t.Errorf("message order wrong: %q, %q", got.Messages[0].Content, got.Messages[1].Content)
	}
	if got.Messages[1].Metadata["source_count"] != "2" {
		t.Errorf("metadata lost: %v", got.Messages[1].Metadata)
	}
}

func TestSaveConversation_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := conversation.New("alice", "docs")
	c.AddMessage(conversation.RoleUser, "first", nil)
	if err := s.SaveConversation(ctx, c); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	firstID := c.Messages[0].ID

	// A second save only inserts the new message; the existing one keeps
	// its identity and content.
	c.AddMessage(conversation.RoleAssistant, "second", nil)
	if err := s.SaveConversation(ctx, c); err != nil {
		t.Fatalf("SaveConversation (second): %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].ID != firstID {
		t.Errorf("first message ID changed: %q vs %q", got.Messages[0].ID, firstID)
	}
	if got.Messages[1].Content != "second" {
		t.Errorf("second message = %q", got.Messages[1].Content)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFindConversation_MostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := conversation.New("alice", "docs")
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	if err := s.SaveConversation(ctx, older); err != nil {
		t.Fatalf("saving older: %v", err)
	}

	newer := conversation.New("alice", "docs")
	if err := s.SaveConversation(ctx, newer); err != nil {
		t.Fatalf("saving newer: %v", err)
	}

	got, err := s.FindConversation(ctx, "alice", "docs")
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("got %s, want the most recent conversation", got.ID)
	}
}

func TestFindConversation_ScopedToUserAndSector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := conversation.New("alice", "docs")
	if err := s.SaveConversation(ctx, c); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	if _, err := s.FindConversation(ctx, "bob", "docs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user: got %v, want ErrNotFound", err)
	}
	if _, err := s.FindConversation(ctx, "alice", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other sector: got %v, want ErrNotFound", err)
	}
}

func TestSoftDeleteConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := conversation.New("alice", "docs")
	c.AddMessage(conversation.RoleUser, "hello", nil)
	if err := s.SaveConversation(ctx, c); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	if err := s.SoftDeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("SoftDeleteConversation: %v", err)
	}

	if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted conversation still readable: %v", err)
	}
	if _, err := s.FindConversation(ctx, "alice", "docs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted conversation still findable: %v", err)
	}

	// Deleting twice is an error: the row is already gone from the
	// non-deleted view.
	if err := s.SoftDeleteConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestSoftDeleteConversation_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SoftDeleteConversation(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteThenNewConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := conversation.New("alice", "docs")
	if err := s.SaveConversation(ctx, old); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	if err := s.SoftDeleteConversation(ctx, old.ID); err != nil {
		t.Fatalf("SoftDeleteConversation: %v", err)
	}

	// A replacement for the same pair is allowed and becomes the one found.
	replacement := conversation.New("alice", "docs")
	if err := s.SaveConversation(ctx, replacement); err != nil {
		t.Fatalf("saving replacement: %v", err)
	}

	got, err := s.FindConversation(ctx, "alice", "docs")
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	if got.ID != replacement.ID {
		t.Errorf("got %s, want replacement %s", got.ID, replacement.ID)
	}
}

func TestSaveDocument_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		ID:         "doc-1",
		SectorID:   "docs",
		Title:      "Handbook",
		Format:     "pdf",
		ByteSize:   2048,
		PageCount:  12,
		ChunkCount: 30,
	}
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != "Handbook" || got.ChunkCount != 30 || got.PageCount != 12 {
		t.Errorf("document fields not round-tripped: %+v", got)
	}

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, title := range []string{"a", "b", "c"} {
		doc := Document{
			ID:        title,
			SectorID:  "docs",
			Title:     title,
			Format:    "text",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveDocument(ctx, doc); err != nil {
			t.Fatalf("SaveDocument: %v", err)
		}
	}

	docs, err := s.ListDocuments(ctx, "docs", 2)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Title != "c" {
		t.Errorf("most recent first: got %q", docs[0].Title)
	}
}
