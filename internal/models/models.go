// Package models defines the core data structures for chatflow.
//
// It includes types for conversations, messages, integration configuration,
// and knowledge articles, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for inbound message content.
const (
	// MaxMessageLength defines the maximum allowed length for inbound message content.
	MaxMessageLength = 10000
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyMessage   = errors.New("message content is required")
	ErrNotConfigured  = errors.New("integration not configured")
)

// Provider identifies an external language-model backend.
type Provider string

const (
	// ProviderOpenAI selects the OpenAI chat completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic selects the Anthropic messages API.
	ProviderAnthropic Provider = "anthropic"
)

// Role tags a conversation turn for the language model.
type Role string

const (
	// RoleUser marks a turn authored by the WhatsApp contact.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the bot.
	RoleAssistant Role = "assistant"
)

// SourceTwilioWhatsApp records which inbound channel created a conversation.
const SourceTwilioWhatsApp = "twilio-whatsapp"

// Conversation represents one anonymized contact's ongoing dialogue.
// The real phone number is never stored; IdentityTag is a one-way derived
// value used to find the conversation again on the next inbound message.
type Conversation struct {
	ID              string    `json:"id"`
	AnonymousName   string    `json:"anonymous_name"`
	IdentityTag     string    `json:"identity_tag"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
	CreatedAt       time.Time `json:"created_at"`
	Source          string    `json:"source"`
}

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	IsFromUser     bool      `json:"is_from_user"`
	ProviderSID    string    `json:"provider_sid,omitempty"` // delivery id assigned by Twilio
	MediaURL       string    `json:"media_url,omitempty"`
	NumMedia       int       `json:"num_media"`
}

// Turn is a role-tagged entry in the context window handed to the language model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// KnowledgeArticle is one knowledge-base entry consumed by the reply
// generator. Articles are managed by the (out of scope) dashboard; the
// pipeline only reads those with status "published".
type KnowledgeArticle struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CategoryName string    `json:"category_name"`
	Content      string    `json:"content"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ArticleStatusPublished marks articles visible to the reply generator.
const ArticleStatusPublished = "published"

// ChannelConfig holds the WhatsApp integration settings (the "whatsapp"
// integration document). AuthToken doubles as the webhook signing secret.
type ChannelConfig struct {
	Enabled    bool   `json:"enabled"`
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	FromNumber string `json:"from_number"` // e.g. "whatsapp:+14155238886" or bare E.164
}

// Validate checks that the channel config carries usable Twilio credentials.
func (c *ChannelConfig) Validate() error {
	if c.AccountSID == "" || c.AuthToken == "" || c.FromNumber == "" {
		return ErrNotConfigured
	}
	return nil
}

// BotConfig holds the chatbot integration settings (the "chatbot"
// integration document). Absence or Enabled=false is a valid terminal
// state: reply generation is silently skipped.
type BotConfig struct {
	Enabled      bool     `json:"enabled"`
	Provider     Provider `json:"provider"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int      `json:"max_tokens"`
	OpenAIKey    string   `json:"openai_api_key,omitempty"`
	AnthropicKey string   `json:"anthropic_api_key,omitempty"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was accepted by the provider.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// ValidateMessageContent reports whether inbound message content falls in
// the accepted range: non-empty after trimming and at most MaxMessageLength.
// Length is measured in UTF-16 code units, the unit WhatsApp counts in,
// so multibyte text is not penalized for its UTF-8 encoding.
func ValidateMessageContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	n := utf16Length(trimmed)
	return n > 0 && n <= MaxMessageLength
}

// utf16Length counts UTF-16 code units: one per BMP rune, two per
// supplementary rune (emoji and the like).
func utf16Length(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// SanitizeMessage neutralizes angle brackets and trims surrounding
// whitespace before content is stored or echoed anywhere.
func SanitizeMessage(content string) string {
	content = strings.ReplaceAll(content, "<", "&lt;")
	content = strings.ReplaceAll(content, ">", "&gt;")
	return strings.TrimSpace(content)
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// SendRequest is the payload for the admin send endpoint.
type SendRequest struct {
	To       string `json:"to"`
	Message  string `json:"message"`
	MediaURL string `json:"media_url,omitempty"`
}

// Validate performs basic validation on a SendRequest.
func (r *SendRequest) Validate() error {
	if r.To == "" {
		return ErrEmptyRecipient
	}
	if r.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}
