// Package chat coordinates one user turn: validate and send the message
// through the webhook transport, format the replies, and persist the
// exchange. Persistence is best-effort and never fails a turn.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"propchat/internal/domain"
	"propchat/internal/format"
	"propchat/internal/metrics"
	"propchat/internal/store"
	"propchat/internal/transport"
)

// fallbackReply is shown in the conversation when the assistant endpoint
// cannot be reached. The real error travels on the notice stream.
const fallbackReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."

// Sender sends a user message to the assistant and returns its replies.
type Sender interface {
	Send(ctx context.Context, message string, user domain.ChatUser) ([]string, error)
}

// Service runs the message round-trip for all surfaces (web gateway, CLI).
type Service struct {
	sender   Sender
	store    domain.ConversationStore
	notifier domain.Notifier
	logger   *slog.Logger
}

// Result is the outcome of one handled turn.
type Result struct {
	ConversationID string                       `json:"conversation_id"`
	UserMessage    *domain.ConversationMessage  `json:"user_message,omitempty"`
	Replies        []domain.ConversationMessage `json:"replies"`
	// Fallback is true when the replies contain a synthetic apology
	// instead of real assistant output.
	Fallback bool `json:"fallback,omitempty"`
}

// NewService wires a Service. All dependencies are required.
func NewService(sender Sender, st domain.ConversationStore, notifier domain.Notifier, logger *slog.Logger) *Service {
	return &Service{sender: sender, store: st, notifier: notifier, logger: logger}
}

// HandleMessage runs one turn. When conversationID is empty a new
// conversation is created and titled from the message text.
//
// Validation and rate-limit rejections return an error and persist
// nothing. Once the message passes validation, the turn always persists:
// on a transport failure the conversation gets a synthetic fallback reply
// and the caller still receives a Result alongside the error.
func (s *Service) HandleMessage(ctx context.Context, user domain.ChatUser, conversationID, text string) (*Result, error) {
	start := time.Now()
	replies, sendErr := s.sender.Send(ctx, text, user)

	if sendErr != nil && rejectedBeforeSend(sendErr) {
		if errors.Is(sendErr, transport.ErrRateLimited) {
			metrics.RateLimited.Inc()
			s.notify(user.ID, "You're sending messages too quickly. Please wait a moment.")
		}
		s.logger.Warn("message rejected", "user", user.ID, "error", sendErr)
		return nil, sendErr
	}

	// Rejected calls never reach the network; only real round-trips count.
	metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.Inc()

	if conversationID == "" {
		title := store.GenerateTitle(text)
		if conv := s.store.CreateConversation(ctx, user.ID, title, ""); conv != nil {
			conversationID = conv.ID
		}
	}

	res := &Result{ConversationID: conversationID}
	if conversationID != "" {
		// Raw content only; formatted segments are a cache derived for
		// bot replies, never for user messages.
		res.UserMessage = s.store.AddMessage(ctx, conversationID, user.ID, domain.RoleUser, text, nil)
	}

	if sendErr != nil {
		metrics.TransportErrors.Inc()
		s.logger.Error("webhook send failed", "user", user.ID, "error", sendErr)
		s.notify(user.ID, "The assistant is unreachable right now.")

		res.Fallback = true
		res.Replies = s.persistReplies(ctx, conversationID, user.ID, []string{fallbackReply})
		return res, sendErr
	}

	metrics.RepliesTotal.Add(int64(len(replies)))
	res.Replies = s.persistReplies(ctx, conversationID, user.ID, replies)
	return res, nil
}

// persistReplies formats and stores bot replies. When the store is down
// the formatted messages are still returned so the UI can render them.
func (s *Service) persistReplies(ctx context.Context, conversationID, userID string, replies []string) []domain.ConversationMessage {
	out := make([]domain.ConversationMessage, 0, len(replies))
	for _, text := range replies {
		segments := format.Format(text)
		var saved *domain.ConversationMessage
		if conversationID != "" {
			saved = s.store.AddMessage(ctx, conversationID, userID, domain.RoleBot, text, segments)
		}
		if saved == nil {
			saved = &domain.ConversationMessage{
				ConversationID:   conversationID,
				UserID:           userID,
				Role:             domain.RoleBot,
				Content:          text,
				FormattedContent: segments,
				CreatedAt:        time.Now().UTC(),
			}
		}
		out = append(out, *saved)
	}
	return out
}

func (s *Service) notify(userID, message string) {
	s.notifier.Publish(domain.Notice{
		Level:   domain.NoticeError,
		Message: message,
		UserID:  userID,
	})
}

// rejectedBeforeSend reports whether the error happened before any bytes
// reached the webhook, meaning nothing should be persisted.
func rejectedBeforeSend(err error) bool {
	return errors.Is(err, transport.ErrRateLimited) ||
		errors.Is(err, transport.ErrEmptyMessage) ||
		errors.Is(err, transport.ErrMessageTooLong) ||
		errors.Is(err, transport.ErrUnsafeContent)
}
