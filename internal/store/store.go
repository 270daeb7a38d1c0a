// Package store persists conversations and their messages in a relational
// store (SQLite by default, Postgres for hosted deployments).
//
// Persistence failures are soft: every operation catches its error, logs it,
// bumps a failure counter, and returns a neutral empty value. Callers treat
// nil / false / empty as "no-op, try again later" — there is no error channel.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"propchat/internal/domain"
	"propchat/internal/metrics"
)

const (
	maxFieldLen    = 500 // title and preview cap
	previewFromLen = 100 // preview derived from title when omitted
	titleFromLen   = 50  // generated title source length
)

// SQLStore implements domain.ConversationStore on database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

type Config struct {
	Driver string // "sqlite" | "postgres"
	DSN    string // file path for sqlite, connection string for postgres
	Logger *slog.Logger
}

// Open connects and migrates. Opening is a startup concern and fails hard;
// the soft-fail convention applies to operations only.
func Open(cfg Config) (*SQLStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var db *sql.DB
	var err error
	switch cfg.Driver {
	case "", "sqlite":
		cfg.Driver = "sqlite"
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		db, err = sql.Open("sqlite", cfg.DSN+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err == nil {
			// Single connection for SQLite
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	case "postgres":
		db, err = sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	s := &SQLStore{db: db, driver: cfg.Driver, logger: cfg.Logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		title       TEXT NOT NULL,
		preview     TEXT,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id                TEXT PRIMARY KEY,
		conversation_id   TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id           TEXT NOT NULL,
		role              TEXT NOT NULL,
		content           TEXT NOT NULL,
		formatted_content TEXT,
		created_at        TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// q rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) q(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// fail logs one swallowed persistence error and bumps the failure counter.
func (s *SQLStore) fail(op string, err error) {
	s.logger.Error("store operation failed", "op", op, "err", err)
	metrics.StoreFailures.Inc()
}

func (s *SQLStore) CreateConversation(ctx context.Context, userID, title, preview string) *domain.Conversation {
	title = clip(strings.TrimSpace(title), maxFieldLen)
	if title == "" {
		s.fail("create_conversation", fmt.Errorf("conversation title cannot be empty"))
		return nil
	}
	if preview == "" {
		preview = clip(title, previewFromLen)
	}
	preview = clip(strings.TrimSpace(preview), maxFieldLen)

	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Preview:   preview,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO conversations (id, user_id, title, preview, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		conv.ID, conv.UserID, conv.Title, conv.Preview, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		s.fail("create_conversation", err)
		return nil
	}
	return &conv
}

func (s *SQLStore) UserConversations(ctx context.Context, userID string) []domain.Conversation {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, title, preview, created_at, updated_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY updated_at DESC, created_at ASC`), userID,
	)
	if err != nil {
		s.fail("user_conversations", err)
		return []domain.Conversation{}
	}
	defer rows.Close()

	convs := []domain.Conversation{}
	for rows.Next() {
		var c domain.Conversation
		var preview sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &preview, &c.CreatedAt, &c.UpdatedAt); err != nil {
			s.fail("user_conversations", err)
			return []domain.Conversation{}
		}
		c.Preview = preview.String
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		s.fail("user_conversations", err)
		return []domain.Conversation{}
	}
	return convs
}

func (s *SQLStore) ConversationByID(ctx context.Context, conversationID string) *domain.Conversation {
	conv, err := s.conversationByID(ctx, conversationID)
	if err != nil {
		s.fail("conversation_by_id", err)
		return nil
	}
	return conv
}

func (s *SQLStore) MessageByID(ctx context.Context, messageID string) *domain.ConversationMessage {
	var m domain.ConversationMessage
	var formatted sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, conversation_id, user_id, role, content, formatted_content, created_at
		 FROM messages WHERE id = ?`), messageID,
	).Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &formatted, &m.CreatedAt)
	if err != nil {
		s.fail("message_by_id", err)
		return nil
	}
	if formatted.Valid {
		if err := json.Unmarshal([]byte(formatted.String), &m.FormattedContent); err != nil {
			s.fail("message_by_id", err)
			return nil
		}
	}
	return &m
}

func (s *SQLStore) ConversationWithMessages(ctx context.Context, conversationID string) (*domain.Conversation, []domain.ConversationMessage) {
	conv, err := s.conversationByID(ctx, conversationID)
	if err != nil {
		s.fail("conversation_with_messages", err)
		return nil, []domain.ConversationMessage{}
	}

	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, conversation_id, user_id, role, content, formatted_content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC`), conversationID,
	)
	if err != nil {
		s.fail("conversation_with_messages", err)
		return nil, []domain.ConversationMessage{}
	}
	defer rows.Close()

	msgs := []domain.ConversationMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			s.fail("conversation_with_messages", err)
			return nil, []domain.ConversationMessage{}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		s.fail("conversation_with_messages", err)
		return nil, []domain.ConversationMessage{}
	}
	return conv, msgs
}

func (s *SQLStore) AddMessage(ctx context.Context, conversationID, userID, role, content string, formatted []domain.Segment) *domain.ConversationMessage {
	msg := domain.ConversationMessage{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		UserID:           userID,
		Role:             role,
		Content:          content,
		FormattedContent: formatted,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.insertMessage(ctx, s.db.ExecContext, msg); err != nil {
		s.fail("add_message", err)
		return nil
	}
	s.touch(ctx, conversationID, msg.CreatedAt)
	return &msg
}

func (s *SQLStore) SaveMessages(ctx context.Context, conversationID, userID string, msgs []domain.Message) []domain.ConversationMessage {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.fail("save_messages", err)
		return []domain.ConversationMessage{}
	}

	saved := make([]domain.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		rec := domain.ConversationMessage{
			ID:               uuid.NewString(),
			ConversationID:   conversationID,
			UserID:           userID,
			Role:             m.Role,
			Content:          m.Content,
			FormattedContent: m.Formatted,
			CreatedAt:        m.Timestamp.UTC(),
		}
		if err := s.insertMessage(ctx, tx.ExecContext, rec); err != nil {
			tx.Rollback()
			s.fail("save_messages", err)
			return []domain.ConversationMessage{}
		}
		saved = append(saved, rec)
	}
	if err := tx.Commit(); err != nil {
		s.fail("save_messages", err)
		return []domain.ConversationMessage{}
	}

	// One freshness bump for the whole batch.
	s.touch(ctx, conversationID, time.Now().UTC())
	return saved
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (s *SQLStore) insertMessage(ctx context.Context, exec execFunc, m domain.ConversationMessage) error {
	var formatted sql.NullString
	if len(m.FormattedContent) > 0 {
		b, err := json.Marshal(m.FormattedContent)
		if err != nil {
			return fmt.Errorf("encode formatted content: %w", err)
		}
		formatted = sql.NullString{String: string(b), Valid: true}
	}
	_, err := exec(ctx, s.q(
		`INSERT INTO messages (id, conversation_id, user_id, role, content, formatted_content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.ConversationID, m.UserID, m.Role, m.Content, formatted, m.CreatedAt,
	)
	return err
}

func (s *SQLStore) UpdateTitle(ctx context.Context, conversationID, title string) *domain.Conversation {
	title = clip(strings.TrimSpace(title), maxFieldLen)
	return s.updateField(ctx, "update_title", conversationID, "title", title)
}

func (s *SQLStore) UpdatePreview(ctx context.Context, conversationID, preview string) *domain.Conversation {
	return s.updateField(ctx, "update_preview", conversationID, "preview", preview)
}

func (s *SQLStore) updateField(ctx context.Context, op, conversationID, column, value string) *domain.Conversation {
	_, err := s.db.ExecContext(ctx, s.q(
		`UPDATE conversations SET `+column+` = ?, updated_at = ? WHERE id = ?`),
		value, time.Now().UTC(), conversationID,
	)
	if err != nil {
		s.fail(op, err)
		return nil
	}
	conv, err := s.conversationByID(ctx, conversationID)
	if err != nil {
		s.fail(op, err)
		return nil
	}
	return conv
}

func (s *SQLStore) DeleteConversation(ctx context.Context, conversationID string) bool {
	// Messages go with it: the schema's ON DELETE CASCADE enforces the
	// ownership relation, not client-side iteration.
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM conversations WHERE id = ?`), conversationID)
	if err != nil {
		s.fail("delete_conversation", err)
		return false
	}
	return true
}

func (s *SQLStore) DeleteMessage(ctx context.Context, messageID string) bool {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM messages WHERE id = ?`), messageID)
	if err != nil {
		s.fail("delete_message", err)
		return false
	}
	return true
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// touch bumps the conversation's freshness marker. Best effort: the message
// write already succeeded and is not rolled back if the bump fails.
func (s *SQLStore) touch(ctx context.Context, conversationID string, now time.Time) {
	_, err := s.db.ExecContext(ctx, s.q(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`), now, conversationID)
	if err != nil {
		s.fail("touch_conversation", err)
	}
}

func (s *SQLStore) conversationByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	var preview sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, title, preview, created_at, updated_at
		 FROM conversations WHERE id = ?`), id,
	).Scan(&c.ID, &c.UserID, &c.Title, &preview, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Preview = preview.String
	return &c, nil
}

func scanMessage(rows *sql.Rows) (domain.ConversationMessage, error) {
	var m domain.ConversationMessage
	var formatted sql.NullString
	if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &formatted, &m.CreatedAt); err != nil {
		return m, err
	}
	if formatted.Valid {
		if err := json.Unmarshal([]byte(formatted.String), &m.FormattedContent); err != nil {
			return m, fmt.Errorf("decode formatted content: %w", err)
		}
	}
	return m, nil
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
