// Package store provides storage backends for chatflow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/dadabora/chatflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) FindConversationByTag(tag string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, anonymous_name, identity_tag, last_message, last_message_time, unread_count, created_at, source
		FROM conversations WHERE identity_tag = ? LIMIT 1`, tag)
	return scanConversationRow(row)
}

func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, anonymous_name, identity_tag, last_message, last_message_time, unread_count, created_at, source
		FROM conversations WHERE id = ?`, id)
	return scanConversationRow(row)
}

func (s *SQLiteStore) CreateConversation(c models.Conversation) error {
	_, err := s.db.Exec(`INSERT INTO conversations (id, anonymous_name, identity_tag, last_message, last_message_time, unread_count, created_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AnonymousName, c.IdentityTag, c.LastMessage, nilIfZeroTime(c.LastMessageTime), c.UnreadCount, c.CreatedAt, c.Source)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "conversation_id", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "conversation_id", c.ID)
	return nil
}

func (s *SQLiteStore) TouchConversation(id, preview string, at time.Time, incrementUnread bool) error {
	inc := 0
	if incrementUnread {
		inc = 1
	}
	_, err := s.db.Exec(`UPDATE conversations SET last_message = ?, last_message_time = ?, unread_count = unread_count + ? WHERE id = ?`,
		preview, at, inc, id)
	if err != nil {
		slog.Error("SQLiteStore TouchConversation failed", "error", err, "conversation_id", id)
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, content, timestamp, is_from_user, provider_sid, media_url, num_media)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Content, m.Timestamp, m.IsFromUser, nilIfEmpty(m.ProviderSID), nilIfEmpty(m.MediaURL), m.NumMedia)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversation_id", m.ConversationID)
		return fmt.Errorf("failed to insert message for conversation %s: %w", m.ConversationID, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "conversation_id", m.ConversationID, "from_user", m.IsFromUser)
	return nil
}

func (s *SQLiteStore) RecentMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, content, timestamp, is_from_user, provider_sid, media_url, num_media
		FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		slog.Error("SQLiteStore RecentMessages query failed", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) ListPublishedArticles() ([]models.KnowledgeArticle, error) {
	rows, err := s.db.Query(`SELECT id, title, category_name, content, status, updated_at
		FROM knowledge_articles WHERE status = ? ORDER BY title`, models.ArticleStatusPublished)
	if err != nil {
		slog.Error("SQLiteStore ListPublishedArticles query failed", "error", err)
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

func (s *SQLiteStore) SaveArticle(a models.KnowledgeArticle) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO knowledge_articles (id, title, category_name, content, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.CategoryName, a.Content, a.Status, a.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveArticle failed", "error", err, "article_id", a.ID)
		return fmt.Errorf("failed to save article %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetChannelConfig() (*models.ChannelConfig, error) {
	var cfg models.ChannelConfig
	ok, err := s.getIntegration(IntegrationWhatsApp, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) SaveChannelConfig(cfg models.ChannelConfig) error {
	return s.saveIntegration(IntegrationWhatsApp, cfg)
}

func (s *SQLiteStore) GetBotConfig() (*models.BotConfig, error) {
	var cfg models.BotConfig
	ok, err := s.getIntegration(IntegrationChatbot, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) SaveBotConfig(cfg models.BotConfig) error {
	return s.saveIntegration(IntegrationChatbot, cfg)
}

func (s *SQLiteStore) getIntegration(name string, out interface{}) (bool, error) {
	var configJSON string
	err := s.db.QueryRow(`SELECT config FROM integrations WHERE name = ?`, name).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore getIntegration failed", "error", err, "name", name)
		return false, fmt.Errorf("failed to load integration %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(configJSON), out); err != nil {
		slog.Error("SQLiteStore getIntegration unmarshal failed", "error", err, "name", name)
		return false, fmt.Errorf("failed to decode integration %s: %w", name, err)
	}
	return true, nil
}

func (s *SQLiteStore) saveIntegration(name string, cfg interface{}) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode integration %s: %w", name, err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO integrations (name, config, updated_at) VALUES (?, ?, ?)`,
		name, string(configJSON), time.Now())
	if err != nil {
		slog.Error("SQLiteStore saveIntegration failed", "error", err, "name", name)
		return fmt.Errorf("failed to save integration %s: %w", name, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
