// Package notify fans transient user-facing notices out to attached
// surfaces (the web gateway's notice stream, the CLI). Notices are
// best-effort: a slow subscriber loses notices rather than blocking the
// publisher.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"propchat/internal/domain"
)

const subscriberBuffer = 16

// Hub is an in-process notice fan-out. Publish never blocks: when a
// subscriber's buffer is full the notice is dropped for that subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[<-chan domain.Notice]chan domain.Notice
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[<-chan domain.Notice]chan domain.Notice),
		logger: logger,
	}
}

// Publish delivers the notice to every subscriber. A zero timestamp is
// filled in with the current time.
func (h *Hub) Publish(n domain.Notice) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		h.logger.Warn("publish to closed notice hub", "level", n.Level)
		return
	}

	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Warn("notice dropped: subscriber buffer full",
				"level", n.Level,
				"user", n.UserID,
			)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel.
func (h *Hub) Subscribe() <-chan domain.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan domain.Notice, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// with a channel that was already removed.
func (h *Hub) Unsubscribe(ch <-chan domain.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[ch]
	if !ok {
		return
	}
	delete(h.subs, ch)
	close(sub)
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[<-chan domain.Notice]chan domain.Notice)
}

// Error publishes an error-level notice for the given user.
func (h *Hub) Error(userID, message string) {
	h.Publish(domain.Notice{Level: domain.NoticeError, Message: message, UserID: userID})
}

// Info publishes an info-level notice for the given user.
func (h *Hub) Info(userID, message string) {
	h.Publish(domain.Notice{Level: domain.NoticeInfo, Message: message, UserID: userID})
}
