package domain

import "context"

// ConversationStore handles persistent storage of conversations and messages.
//
// Every operation reports failure by absence — a nil pointer, false, or an
// empty slice — never by error. Callers treat those neutral values as the sole
// failure signal and carry on; there is no secondary error channel.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title, preview string) *Conversation
	UserConversations(ctx context.Context, userID string) []Conversation
	ConversationByID(ctx context.Context, conversationID string) *Conversation
	ConversationWithMessages(ctx context.Context, conversationID string) (*Conversation, []ConversationMessage)
	MessageByID(ctx context.Context, messageID string) *ConversationMessage
	AddMessage(ctx context.Context, conversationID, userID, role, content string, formatted []Segment) *ConversationMessage
	SaveMessages(ctx context.Context, conversationID, userID string, msgs []Message) []ConversationMessage
	UpdateTitle(ctx context.Context, conversationID, title string) *Conversation
	UpdatePreview(ctx context.Context, conversationID, preview string) *Conversation
	DeleteConversation(ctx context.Context, conversationID string) bool
	DeleteMessage(ctx context.Context, messageID string) bool

	Close() error
}
