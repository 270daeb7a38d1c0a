package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"propchat/internal/domain"
	"propchat/internal/format"
	"propchat/internal/metrics"
	"propchat/internal/transport"
)

type ctxKey int

const userKey ctxKey = 0

// requireUser pulls the caller's identity from the X-User-ID and
// X-User-Email headers. The upstream reverse proxy authenticates the user
// and injects these; requests without an ID are rejected.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := domain.ChatUser{
			ID:    r.Header.Get("X-User-ID"),
			Email: r.Header.Get("X-User-Email"),
		}
		if user.ID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(r *http.Request) domain.ChatUser {
	user, _ := r.Context().Value(userKey).(domain.ChatUser)
	return user
}

// sanitizeMessages escapes segment contents on the way out. The formatter
// supplies structure, not safety; this is the mandatory render-side step.
func sanitizeMessages(msgs []domain.ConversationMessage) []domain.ConversationMessage {
	for i := range msgs {
		msgs[i].FormattedContent = format.SanitizeSegments(msgs[i].FormattedContent)
	}
	return msgs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := userFrom(r)
	if req.ConversationID != "" && !s.ownsConversation(r, req.ConversationID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	res, err := s.chat.HandleMessage(r.Context(), user, req.ConversationID, req.Message)
	if res != nil {
		res.Replies = sanitizeMessages(res.Replies)
	}
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		case errors.Is(err, transport.ErrEmptyMessage),
			errors.Is(err, transport.ErrMessageTooLong),
			errors.Is(err, transport.ErrUnsafeContent):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			// The turn still produced a fallback reply; hand it to the
			// client along with the gateway error status.
			if res != nil {
				writeJSON(w, http.StatusBadGateway, res)
				return
			}
			writeError(w, http.StatusBadGateway, "assistant unreachable")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ownsConversation reports whether the conversation exists and belongs to
// the caller. Someone else's conversation looks identical to a missing one.
func (s *Server) ownsConversation(r *http.Request, conversationID string) bool {
	conv := s.store.ConversationByID(r.Context(), conversationID)
	return conv != nil && conv.UserID == userFrom(r).ID
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	convs := s.store.UserConversations(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, msgs := s.store.ConversationWithMessages(r.Context(), id)
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if conv.UserID != userFrom(r).ID {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     sanitizeMessages(msgs),
	})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	id := chi.URLParam(r, "id")
	if !s.ownsConversation(r, id) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	conv := s.store.UpdateTitle(r.Context(), id, req.Title)
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.ownsConversation(r, id) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !s.store.DeleteConversation(r.Context(), id) {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg := s.store.MessageByID(r.Context(), id)
	if msg == nil || msg.UserID != userFrom(r).ID {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if !s.store.DeleteMessage(r.Context(), id) {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// upgrader applies the same origin policy the CORS middleware applies to
// the API. Requests without an Origin header are not from a browser and
// pass through.
func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleNotices streams the caller's notices over a WebSocket. Notices
// with no user ID are broadcast to everyone.
func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	u := s.upgrader()
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	notices := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(notices)
	defer conn.Close()

	// Read pump: discard client frames, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.UserID != "" && n.UserID != user.ID {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				s.logger.Debug("notice write failed", "user", user.ID, "err", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
