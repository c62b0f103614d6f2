package store

import (
	"context"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteConversationStore {
	t.Helper()
	s, err := OpenSQLiteConversationStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteConversationStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteConversationStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "first chat")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected a generated ID")
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.Title != "first chat" {
		t.Errorf("Title = %q, want %q", got.Title, "first chat")
	}
}

func TestSQLiteConversationStoreGetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteConversationStoreListConversationsOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "older")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateConversation(ctx, "newer")
	if err != nil {
		t.Fatal(err)
	}
	// Force distinct timestamps so ORDER BY created_at DESC is meaningful.
	if first.CreatedAt.Equal(second.CreatedAt) {
		if err := bumpCreatedAt(s, second.ID); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
}

func bumpCreatedAt(s *SQLiteConversationStore, id string) error {
	_, err := s.db.Exec(`UPDATE conversations SET created_at = datetime('now', '+1 second') WHERE id = ?`, id)
	return err
}

func TestSQLiteConversationStoreAppendAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "with messages")
	if err != nil {
		t.Fatal(err)
	}

	userMsg, err := s.AppendMessage(ctx, conv.ID, Message{Role: "user", Content: "hello"})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if userMsg.ID == "" || userMsg.ConvID != conv.ID {
		t.Fatalf("unexpected message shape: %+v", userMsg)
	}

	if _, err := s.AppendMessage(ctx, conv.ID, Message{Role: "assistant", Content: "hi there"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[1].Content != "hi there" {
		t.Errorf("unexpected message order/content: %+v", msgs)
	}
}

func TestSQLiteConversationStoreAppendMessageUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendMessage(context.Background(), "ghost", Message{Role: "user", Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteConversationStoreUpdateMessageContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "editable")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := s.AppendMessage(ctx, conv.ID, Message{Role: "assistant", Content: "partial"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateMessageContent(ctx, msg.ID, "partial and complete"); err != nil {
		t.Fatalf("UpdateMessageContent() error = %v", err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "partial and complete" {
		t.Fatalf("unexpected messages after update: %+v", msgs)
	}
}

func TestSQLiteConversationStoreUpdateMessageContentMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateMessageContent(context.Background(), "ghost-message", "new content")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
