// Package store provides storage backends for chatflow.
//
// It includes SQLite and PostgreSQL stores selected by DSN, plus an
// in-memory store used when no DSN is configured and in tests. All backends
// persist conversations, their append-only message logs, knowledge-base
// articles, and the integration configuration documents.
package store

import (
	"strings"
	"time"

	"github.com/dadabora/chatflow/internal/models"
)

// Integration document names. These mirror the two configuration documents
// the dashboard writes: the WhatsApp channel settings and the chatbot
// settings.
const (
	IntegrationWhatsApp = "whatsapp"
	IntegrationChatbot  = "chatbot"
)

// Store is the persistence interface consumed by the webhook pipeline.
type Store interface {
	// FindConversationByTag returns the conversation whose identity tag
	// matches, or (nil, nil) when none exists.
	FindConversationByTag(tag string) (*models.Conversation, error)
	// GetConversation returns a conversation by id, or (nil, nil) when absent.
	GetConversation(id string) (*models.Conversation, error)
	CreateConversation(c models.Conversation) error
	// TouchConversation updates the conversation's preview text and last
	// message time; incrementUnread additionally bumps the unread counter.
	TouchConversation(id, preview string, at time.Time, incrementUnread bool) error

	// AddMessage appends a message to its conversation's log. Messages are
	// never mutated or deleted.
	AddMessage(m models.Message) error
	// RecentMessages returns up to limit messages for a conversation,
	// ordered by timestamp descending (newest first).
	RecentMessages(conversationID string, limit int) ([]models.Message, error)

	ListPublishedArticles() ([]models.KnowledgeArticle, error)
	SaveArticle(a models.KnowledgeArticle) error

	// GetChannelConfig returns (nil, nil) when the integration document is absent.
	GetChannelConfig() (*models.ChannelConfig, error)
	SaveChannelConfig(cfg models.ChannelConfig) error
	// GetBotConfig returns (nil, nil) when the integration document is absent.
	GetBotConfig() (*models.BotConfig, error)
	SaveBotConfig(cfg models.BotConfig) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use URL or key=value form; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
