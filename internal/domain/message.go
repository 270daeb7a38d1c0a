package domain

import "time"

// SegmentKind identifies one of the four inline formats plus plain text.
type SegmentKind string

const (
	SegmentText      SegmentKind = "text"
	SegmentBold      SegmentKind = "bold"
	SegmentItalic    SegmentKind = "italic"
	SegmentCode      SegmentKind = "code"
	SegmentCodeBlock SegmentKind = "codeblock"
)

// Segment is one contiguous unit of formatted text. Segment order is
// significant: stripped of delimiters, the sequence reconstructs the raw text.
type Segment struct {
	Kind    SegmentKind `json:"type"`
	Content string      `json:"content"`
}

const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// ChatUser is the identity carried in every outgoing transport call.
// The transport layer never stores it.
type ChatUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Message is a chat message before persistence. Raw Content is always
// retained; Formatted is a derived cache computed for bot replies only.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Formatted []Segment `json:"formatted,omitempty"`
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationMessage is the persisted form of Message. It never outlives its
// Conversation: deleting the conversation cascades to every message.
type ConversationMessage struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	UserID           string    `json:"user_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	FormattedContent []Segment `json:"formatted_content,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
