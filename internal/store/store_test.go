package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"propchat/internal/domain"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{DSN: filepath.Join(t.TempDir(), "test.db"), Logger: logger})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateConversation_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := s.CreateConversation(ctx, "u-1", "Leaky faucet in unit 4B", "")
	if conv == nil {
		t.Fatal("expected conversation, got nil")
	}
	if conv.ID == "" {
		t.Fatal("expected generated id")
	}
	if conv.Preview != "Leaky faucet in unit 4B" {
		t.Fatalf("preview should default to title, got %q", conv.Preview)
	}

	got, msgs := s.ConversationWithMessages(ctx, conv.ID)
	if got == nil {
		t.Fatal("expected conversation back")
	}
	if got.Title != conv.Title || got.UserID != "u-1" {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestCreateConversation_EmptyTitle(t *testing.T) {
	s := newTestStore(t)
	if conv := s.CreateConversation(context.Background(), "u-1", "   ", ""); conv != nil {
		t.Fatalf("empty title should yield nil, got %+v", conv)
	}
}

func TestCreateConversation_Truncation(t *testing.T) {
	s := newTestStore(t)
	long := strings.Repeat("x", 600)

	conv := s.CreateConversation(context.Background(), "u-1", long, "")
	if conv == nil {
		t.Fatal("expected conversation")
	}
	if len(conv.Title) != 500 {
		t.Fatalf("title should be clipped to 500, got %d", len(conv.Title))
	}
	if len(conv.Preview) != 100 {
		t.Fatalf("default preview comes from the title's first 100 chars, got %d", len(conv.Preview))
	}
}

func TestAddMessage_BumpsFreshness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := s.CreateConversation(ctx, "u-1", "first", "")
	b := s.CreateConversation(ctx, "u-1", "second", "")
	if a == nil || b == nil {
		t.Fatal("setup failed")
	}

	// b is newer, so it lists first.
	convs := s.UserConversations(ctx, "u-1")
	if len(convs) != 2 || convs[0].ID != b.ID {
		t.Fatalf("expected b first, got %+v", convs)
	}

	if m := s.AddMessage(ctx, a.ID, "u-1", domain.RoleUser, "hello", nil); m == nil {
		t.Fatal("add message failed")
	}

	convs = s.UserConversations(ctx, "u-1")
	if convs[0].ID != a.ID {
		t.Fatal("appending a message should move the conversation to the top")
	}
	if !convs[0].UpdatedAt.After(a.UpdatedAt) {
		t.Fatal("updated_at should have been bumped")
	}
}

func TestAddMessage_FormattedContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := s.CreateConversation(ctx, "u-1", "t", "")
	segs := []domain.Segment{
		{Kind: domain.SegmentText, Content: "see "},
		{Kind: domain.SegmentBold, Content: "this"},
	}
	if m := s.AddMessage(ctx, conv.ID, "u-1", domain.RoleBot, "see **this**", segs); m == nil {
		t.Fatal("add message failed")
	}

	_, msgs := s.ConversationWithMessages(ctx, conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0].FormattedContent
	if len(got) != 2 || got[0].Kind != domain.SegmentText || got[1].Kind != domain.SegmentBold {
		t.Fatalf("formatted content did not round-trip: %+v", got)
	}
}

func TestSaveMessages_PreservesOrderAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := s.CreateConversation(ctx, "u-1", "t", "")
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	batch := []domain.Message{
		{Role: domain.RoleBot, Content: "newest", Timestamp: base.Add(2 * time.Minute)},
		{Role: domain.RoleUser, Content: "oldest", Timestamp: base},
		{Role: domain.RoleBot, Content: "middle", Timestamp: base.Add(time.Minute)},
	}

	saved := s.SaveMessages(ctx, conv.ID, "u-1", batch)
	if len(saved) != 3 {
		t.Fatalf("expected 3 saved, got %d", len(saved))
	}

	_, msgs := s.ConversationWithMessages(ctx, conv.ID)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "oldest" || msgs[1].Content != "middle" || msgs[2].Content != "newest" {
		t.Fatalf("messages not in created_at order: %v", []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	}
	if !msgs[0].CreatedAt.Equal(base) {
		t.Fatalf("original timestamp not preserved: %v", msgs[0].CreatedAt)
	}
	if msgs[1].Role != domain.RoleBot {
		t.Fatal("role not preserved")
	}
}

func TestDeleteConversation_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := s.CreateConversation(ctx, "u-1", "doomed", "")
	m := s.AddMessage(ctx, conv.ID, "u-1", domain.RoleUser, "bye", nil)
	if m == nil {
		t.Fatal("setup failed")
	}

	if !s.DeleteConversation(ctx, conv.ID) {
		t.Fatal("delete should succeed")
	}

	if got, _ := s.ConversationWithMessages(ctx, conv.ID); got != nil {
		t.Fatal("conversation should be gone")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conv.ID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("cascade should have removed messages, %d left", count)
	}
}

func TestDeleteMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := s.CreateConversation(ctx, "u-1", "t", "")
	m := s.AddMessage(ctx, conv.ID, "u-1", domain.RoleUser, "x", nil)

	if !s.DeleteMessage(ctx, m.ID) {
		t.Fatal("delete should succeed")
	}
	if _, msgs := s.ConversationWithMessages(ctx, conv.ID); len(msgs) != 0 {
		t.Fatalf("message should be gone, got %d", len(msgs))
	}
}

func TestUpdateTitleAndPreview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := s.CreateConversation(ctx, "u-1", "old title", "")

	updated := s.UpdateTitle(ctx, conv.ID, "new title")
	if updated == nil || updated.Title != "new title" {
		t.Fatalf("title not updated: %+v", updated)
	}
	if !updated.UpdatedAt.After(conv.UpdatedAt) {
		t.Fatal("updated_at should have been bumped")
	}

	updated = s.UpdatePreview(ctx, conv.ID, "fresh preview")
	if updated == nil || updated.Preview != "fresh preview" {
		t.Fatalf("preview not updated: %+v", updated)
	}
}

func TestUserConversations_EmptyNotNil(t *testing.T) {
	s := newTestStore(t)
	convs := s.UserConversations(context.Background(), "nobody")
	if convs == nil {
		t.Fatal("expected empty slice, not nil")
	}
	if len(convs) != 0 {
		t.Fatalf("expected no conversations, got %d", len(convs))
	}
}

func TestGenerateTitle_Short(t *testing.T) {
	if got := GenerateTitle("When is rent due?"); got != "When is rent due?" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestGenerateTitle_Truncates(t *testing.T) {
	msg := strings.Repeat("a", 60)
	got := GenerateTitle(msg)
	if got != strings.Repeat("a", 50)+"..." {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestGenerateTitle_ExactBoundary(t *testing.T) {
	msg := strings.Repeat("a", 50)
	if got := GenerateTitle(msg); got != msg {
		t.Fatalf("50 chars should pass unchanged, got %q", got)
	}
}
