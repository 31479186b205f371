package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dadabora/chatflow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime returns nil for the zero time, for nullable timestamp columns.
func nilIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanConversationRow scans a Conversation from a single sql.Row, mapping
// sql.ErrNoRows to (nil, nil).
func scanConversationRow(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	var lastMessageTime sql.NullTime
	err := row.Scan(&c.ID, &c.AnonymousName, &c.IdentityTag, &c.LastMessage, &lastMessageTime, &c.UnreadCount, &c.CreatedAt, &c.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation failed: %w", err)
	}
	if lastMessageTime.Valid {
		c.LastMessageTime = lastMessageTime.Time
	}
	return &c, nil
}

// scanMessages scans all messages from sql.Rows.
func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var providerSID, mediaURL sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Timestamp, &m.IsFromUser, &providerSID, &mediaURL, &m.NumMedia); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.ProviderSID = providerSID.String
		m.MediaURL = mediaURL.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows failed: %w", err)
	}
	return messages, nil
}

// scanArticles scans all knowledge articles from sql.Rows.
func scanArticles(rows *sql.Rows) ([]models.KnowledgeArticle, error) {
	var articles []models.KnowledgeArticle
	for rows.Next() {
		var a models.KnowledgeArticle
		if err := rows.Scan(&a.ID, &a.Title, &a.CategoryName, &a.Content, &a.Status, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan article failed: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows failed: %w", err)
	}
	return articles, nil
}
