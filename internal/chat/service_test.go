package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"propchat/internal/domain"
	"propchat/internal/notify"
	"propchat/internal/transport"
)

// fakeSender returns canned replies or a canned error.
type fakeSender struct {
	replies []string
	err     error
	calls   int
}

func (f *fakeSender) Send(ctx context.Context, message string, user domain.ChatUser) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.replies, nil
}

// memStore is an in-memory ConversationStore. Set down=true to simulate
// the neutral-return failure mode.
type memStore struct {
	down          bool
	conversations map[string]*domain.Conversation
	messages      []domain.ConversationMessage
	nextID        int
}

func newMemStore() *memStore {
	return &memStore{conversations: make(map[string]*domain.Conversation)}
}

func (m *memStore) id() string {
	m.nextID++
	return fmt.Sprintf("id-%d", m.nextID)
}

func (m *memStore) CreateConversation(ctx context.Context, userID, title, preview string) *domain.Conversation {
	if m.down {
		return nil
	}
	conv := &domain.Conversation{ID: m.id(), UserID: userID, Title: title, Preview: preview}
	m.conversations[conv.ID] = conv
	return conv
}

func (m *memStore) UserConversations(ctx context.Context, userID string) []domain.Conversation {
	out := []domain.Conversation{}
	if m.down {
		return out
	}
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out
}

func (m *memStore) ConversationByID(ctx context.Context, conversationID string) *domain.Conversation {
	if m.down {
		return nil
	}
	return m.conversations[conversationID]
}

func (m *memStore) MessageByID(ctx context.Context, messageID string) *domain.ConversationMessage {
	if m.down {
		return nil
	}
	for i := range m.messages {
		if m.messages[i].ID == messageID {
			return &m.messages[i]
		}
	}
	return nil
}

func (m *memStore) ConversationWithMessages(ctx context.Context, conversationID string) (*domain.Conversation, []domain.ConversationMessage) {
	if m.down {
		return nil, []domain.ConversationMessage{}
	}
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, []domain.ConversationMessage{}
	}
	msgs := []domain.ConversationMessage{}
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg)
		}
	}
	return conv, msgs
}

func (m *memStore) AddMessage(ctx context.Context, conversationID, userID, role, content string, formatted []domain.Segment) *domain.ConversationMessage {
	if m.down {
		return nil
	}
	msg := domain.ConversationMessage{
		ID:               m.id(),
		ConversationID:   conversationID,
		UserID:           userID,
		Role:             role,
		Content:          content,
		FormattedContent: formatted,
		CreatedAt:        time.Now().UTC(),
	}
	m.messages = append(m.messages, msg)
	return &msg
}

func (m *memStore) SaveMessages(ctx context.Context, conversationID, userID string, msgs []domain.Message) []domain.ConversationMessage {
	out := []domain.ConversationMessage{}
	if m.down {
		return out
	}
	for _, msg := range msgs {
		saved := m.AddMessage(ctx, conversationID, userID, msg.Role, msg.Content, msg.Formatted)
		out = append(out, *saved)
	}
	return out
}

func (m *memStore) UpdateTitle(ctx context.Context, conversationID, title string) *domain.Conversation {
	if m.down {
		return nil
	}
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil
	}
	conv.Title = title
	return conv
}

func (m *memStore) UpdatePreview(ctx context.Context, conversationID, preview string) *domain.Conversation {
	if m.down {
		return nil
	}
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil
	}
	conv.Preview = preview
	return conv
}

func (m *memStore) DeleteConversation(ctx context.Context, conversationID string) bool {
	if m.down {
		return false
	}
	delete(m.conversations, conversationID)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return true
}

func (m *memStore) DeleteMessage(ctx context.Context, messageID string) bool {
	if m.down {
		return false
	}
	for i, msg := range m.messages {
		if msg.ID == messageID {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return true
		}
	}
	return true
}

func (m *memStore) Close() error { return nil }

func newTestService(sender Sender, st domain.ConversationStore) (*Service, *notify.Hub) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := notify.NewHub(logger)
	return NewService(sender, st, hub, logger), hub
}

var turnUser = domain.ChatUser{ID: "u-1", Email: "tenant@example.com"}

func TestHandleMessage_NewConversation(t *testing.T) {
	st := newMemStore()
	svc, _ := newTestService(&fakeSender{replies: []string{"Of course, happy to help."}}, st)

	res, err := svc.HandleMessage(context.Background(), turnUser, "", "When is rent due?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ConversationID == "" {
		t.Fatal("expected a new conversation")
	}

	conv := st.conversations[res.ConversationID]
	if conv == nil {
		t.Fatal("conversation not persisted")
	}
	if conv.Title != "When is rent due?" {
		t.Errorf("unexpected title: %q", conv.Title)
	}

	if res.UserMessage == nil || res.UserMessage.Role != domain.RoleUser {
		t.Fatal("user message not persisted")
	}
	if len(res.Replies) != 1 || res.Replies[0].Role != domain.RoleBot {
		t.Fatalf("expected 1 bot reply, got %+v", res.Replies)
	}
	if res.Fallback {
		t.Error("successful turn should not be marked fallback")
	}
}

func TestHandleMessage_ExistingConversation(t *testing.T) {
	st := newMemStore()
	conv := st.CreateConversation(context.Background(), turnUser.ID, "Lease question", "")

	svc, _ := newTestService(&fakeSender{replies: []string{"ok"}}, st)

	res, err := svc.HandleMessage(context.Background(), turnUser, conv.ID, "follow-up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ConversationID != conv.ID {
		t.Errorf("expected reuse of %q, got %q", conv.ID, res.ConversationID)
	}
	if len(st.conversations) != 1 {
		t.Errorf("no new conversation should be created, have %d", len(st.conversations))
	}
}

func TestHandleMessage_FormatsReplies(t *testing.T) {
	st := newMemStore()
	svc, _ := newTestService(&fakeSender{replies: []string{"Your balance is **$1,200**"}}, st)

	res, err := svc.HandleMessage(context.Background(), turnUser, "", "balance?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs := res.Replies[0].FormattedContent
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if segs[1].Kind != domain.SegmentBold || segs[1].Content != "$1,200" {
		t.Errorf("unexpected bold segment: %+v", segs[1])
	}
}

func TestHandleMessage_RateLimited(t *testing.T) {
	st := newMemStore()
	svc, hub := newTestService(&fakeSender{err: transport.ErrRateLimited}, st)
	notices := hub.Subscribe()

	res, err := svc.HandleMessage(context.Background(), turnUser, "", "spam")
	if !errors.Is(err, transport.ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if res != nil {
		t.Fatal("rejected turn should return no result")
	}
	if len(st.conversations) != 0 || len(st.messages) != 0 {
		t.Fatal("rejected turn should persist nothing")
	}

	select {
	case n := <-notices:
		if n.Level != domain.NoticeError {
			t.Errorf("expected error notice, got %q", n.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a rate-limit notice")
	}
}

func TestHandleMessage_ValidationRejectsWithoutPersisting(t *testing.T) {
	for _, sentinel := range []error{
		transport.ErrEmptyMessage,
		transport.ErrMessageTooLong,
		transport.ErrUnsafeContent,
	} {
		st := newMemStore()
		svc, _ := newTestService(&fakeSender{err: sentinel}, st)

		res, err := svc.HandleMessage(context.Background(), turnUser, "", "bad input")
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected %v, got %v", sentinel, err)
		}
		if res != nil || len(st.messages) != 0 {
			t.Fatalf("%v: nothing should be persisted", sentinel)
		}
	}
}

func TestHandleMessage_TransportFailureFallsBack(t *testing.T) {
	st := newMemStore()
	sendErr := fmt.Errorf("dial: %w", transport.ErrNetwork)
	svc, hub := newTestService(&fakeSender{err: sendErr}, st)
	notices := hub.Subscribe()

	res, err := svc.HandleMessage(context.Background(), turnUser, "", "hello?")
	if !errors.Is(err, transport.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if res == nil {
		t.Fatal("transport failure should still return a result")
	}
	if !res.Fallback {
		t.Error("result should be marked fallback")
	}
	if res.UserMessage == nil {
		t.Error("user message should be persisted before the failure reply")
	}
	if len(res.Replies) != 1 || res.Replies[0].Content != fallbackReply {
		t.Fatalf("expected the fallback reply, got %+v", res.Replies)
	}
	if res.Replies[0].Role != domain.RoleBot {
		t.Errorf("fallback reply should come from the bot")
	}

	select {
	case n := <-notices:
		if n.UserID != turnUser.ID {
			t.Errorf("notice should target the sender, got %q", n.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a transport-failure notice")
	}
}

func TestHandleMessage_HTTPErrorFallsBack(t *testing.T) {
	st := newMemStore()
	svc, _ := newTestService(&fakeSender{err: &transport.HTTPError{Status: 502}}, st)

	res, err := svc.HandleMessage(context.Background(), turnUser, "", "hello?")
	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 502 {
		t.Fatalf("expected HTTPError 502, got %v", err)
	}
	if res == nil || !res.Fallback {
		t.Fatal("expected fallback result")
	}
}

func TestHandleMessage_StoreDownStillReplies(t *testing.T) {
	st := newMemStore()
	st.down = true
	svc, _ := newTestService(&fakeSender{replies: []string{"still here"}}, st)

	res, err := svc.HandleMessage(context.Background(), turnUser, "", "anyone home?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ConversationID != "" {
		t.Errorf("no conversation could be created, got %q", res.ConversationID)
	}
	if len(res.Replies) != 1 || res.Replies[0].Content != "still here" {
		t.Fatalf("replies should survive a dead store, got %+v", res.Replies)
	}
}

func TestHandleMessage_MultipleReplies(t *testing.T) {
	st := newMemStore()
	svc, _ := newTestService(&fakeSender{replies: []string{"first", "second", "third"}}, st)

	res, err := svc.HandleMessage(context.Background(), turnUser, "", "tell me everything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Replies) != 3 {
		t.Fatalf("expected 3 replies, got %d", len(res.Replies))
	}
	for i, want := range []string{"first", "second", "third"} {
		if res.Replies[i].Content != want {
			t.Errorf("reply %d: expected %q, got %q", i, want, res.Replies[i].Content)
		}
	}
}

func TestHandleMessage_LongMessageTitleTruncated(t *testing.T) {
	st := newMemStore()
	svc, _ := newTestService(&fakeSender{replies: []string{"ok"}}, st)

	long := "This is a very long first message that definitely exceeds the fifty character title limit"
	res, err := svc.HandleMessage(context.Background(), turnUser, "", long)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	title := st.conversations[res.ConversationID].Title
	if len([]rune(title)) > 53 {
		t.Errorf("title too long: %q", title)
	}
	if title[len(title)-3:] != "..." {
		t.Errorf("truncated title should end with ellipsis: %q", title)
	}
}
