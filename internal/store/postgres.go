// Package store provides storage backends for chatflow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/dadabora/chatflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "dsn_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) FindConversationByTag(tag string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, anonymous_name, identity_tag, last_message, last_message_time, unread_count, created_at, source
		FROM conversations WHERE identity_tag = $1 LIMIT 1`, tag)
	return scanConversationRow(row)
}

func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, anonymous_name, identity_tag, last_message, last_message_time, unread_count, created_at, source
		FROM conversations WHERE id = $1`, id)
	return scanConversationRow(row)
}

func (s *PostgresStore) CreateConversation(c models.Conversation) error {
	_, err := s.db.Exec(`INSERT INTO conversations (id, anonymous_name, identity_tag, last_message, last_message_time, unread_count, created_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.AnonymousName, c.IdentityTag, c.LastMessage, nilIfZeroTime(c.LastMessageTime), c.UnreadCount, c.CreatedAt, c.Source)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "conversation_id", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) TouchConversation(id, preview string, at time.Time, incrementUnread bool) error {
	inc := 0
	if incrementUnread {
		inc = 1
	}
	_, err := s.db.Exec(`UPDATE conversations SET last_message = $1, last_message_time = $2, unread_count = unread_count + $3 WHERE id = $4`,
		preview, at, inc, id)
	if err != nil {
		slog.Error("PostgresStore TouchConversation failed", "error", err, "conversation_id", id)
		return fmt.Errorf("failed to update conversation %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, content, timestamp, is_from_user, provider_sid, media_url, num_media)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.Content, m.Timestamp, m.IsFromUser, nilIfEmpty(m.ProviderSID), nilIfEmpty(m.MediaURL), m.NumMedia)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversation_id", m.ConversationID)
		return fmt.Errorf("failed to insert message for conversation %s: %w", m.ConversationID, err)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, content, timestamp, is_from_user, provider_sid, media_url, num_media
		FROM messages WHERE conversation_id = $1 ORDER BY timestamp DESC LIMIT $2`, conversationID, limit)
	if err != nil {
		slog.Error("PostgresStore RecentMessages query failed", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) ListPublishedArticles() ([]models.KnowledgeArticle, error) {
	rows, err := s.db.Query(`SELECT id, title, category_name, content, status, updated_at
		FROM knowledge_articles WHERE status = $1 ORDER BY title`, models.ArticleStatusPublished)
	if err != nil {
		slog.Error("PostgresStore ListPublishedArticles query failed", "error", err)
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

func (s *PostgresStore) SaveArticle(a models.KnowledgeArticle) error {
	_, err := s.db.Exec(`INSERT INTO knowledge_articles (id, title, category_name, content, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, category_name = EXCLUDED.category_name,
			content = EXCLUDED.content, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		a.ID, a.Title, a.CategoryName, a.Content, a.Status, a.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveArticle failed", "error", err, "article_id", a.ID)
		return fmt.Errorf("failed to save article %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetChannelConfig() (*models.ChannelConfig, error) {
	var cfg models.ChannelConfig
	ok, err := s.getIntegration(IntegrationWhatsApp, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) SaveChannelConfig(cfg models.ChannelConfig) error {
	return s.saveIntegration(IntegrationWhatsApp, cfg)
}

func (s *PostgresStore) GetBotConfig() (*models.BotConfig, error) {
	var cfg models.BotConfig
	ok, err := s.getIntegration(IntegrationChatbot, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) SaveBotConfig(cfg models.BotConfig) error {
	return s.saveIntegration(IntegrationChatbot, cfg)
}

func (s *PostgresStore) getIntegration(name string, out interface{}) (bool, error) {
	var configJSON string
	err := s.db.QueryRow(`SELECT config FROM integrations WHERE name = $1`, name).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore getIntegration failed", "error", err, "name", name)
		return false, fmt.Errorf("failed to load integration %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(configJSON), out); err != nil {
		return false, fmt.Errorf("failed to decode integration %s: %w", name, err)
	}
	return true, nil
}

func (s *PostgresStore) saveIntegration(name string, cfg interface{}) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode integration %s: %w", name, err)
	}
	_, err = s.db.Exec(`INSERT INTO integrations (name, config, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at`,
		name, string(configJSON), time.Now())
	if err != nil {
		slog.Error("PostgresStore saveIntegration failed", "error", err, "name", name)
		return fmt.Errorf("failed to save integration %s: %w", name, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
