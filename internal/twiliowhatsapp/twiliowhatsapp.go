// Package twiliowhatsapp sends WhatsApp messages through the Twilio REST API,
// splitting long replies into ordered chunks that respect WhatsApp's
// practical message size limit.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/dadabora/chatflow/internal/models"
)

const (
	// ChunkLimit is the maximum size of a single outbound WhatsApp message.
	ChunkLimit = 1500

	// DefaultChunkDelay is the pause between consecutive chunks so they
	// arrive in order on the recipient's device.
	DefaultChunkDelay = 500 * time.Millisecond

	whatsappPrefix = "whatsapp:"
)

// SendResult reports the provider-side identity of a delivered message.
type SendResult struct {
	SID    string
	Status string
}

// Client is the minimal Twilio surface the sender needs. MockClient
// implements it for tests.
type Client interface {
	SendMessage(ctx context.Context, to, body, mediaURL string) (*SendResult, error)
}

// TwilioClient sends messages through a Twilio account's API.
type TwilioClient struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioClient builds a client from channel credentials.
func NewTwilioClient(cfg models.ChannelConfig) (*TwilioClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioClient{client: rc, from: cfg.FromNumber}, nil
}

// SendMessage delivers one message to a WhatsApp recipient. The to address
// is a bare phone number; the whatsapp: channel prefix is applied here.
func (c *TwilioClient) SendMessage(ctx context.Context, to, body, mediaURL string) (*SendResult, error) {
	if to == "" {
		return nil, models.ErrEmptyRecipient
	}
	if body == "" && mediaURL == "" {
		return nil, models.ErrEmptyMessage
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetFrom(ensureWhatsAppPrefix(c.from))
	params.SetTo(ensureWhatsAppPrefix(to))
	if body != "" {
		params.SetBody(body)
	}
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioClient.SendMessage: Twilio API call failed", "to", to, "error", err)
		return nil, fmt.Errorf("failed to send WhatsApp message: %w", err)
	}

	result := &SendResult{}
	if resp.Sid != nil {
		result.SID = *resp.Sid
	}
	if resp.Status != nil {
		result.Status = *resp.Status
	}
	slog.Debug("TwilioClient.SendMessage: message sent", "to", to, "sid", result.SID, "status", result.Status)
	return result, nil
}

func ensureWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

// SplitMessage breaks text into chunks of at most maxLen characters,
// preferring to cut at a paragraph break, then a sentence end, then a word
// boundary, and only as a last resort mid-word. A break candidate is used
// only when it falls past the midpoint of the window, so chunks stay
// reasonably full.
func SplitMessage(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > maxLen {
		cut := maxLen

		if pos := lastIndexWithin(remaining, "\n\n", maxLen); pos > maxLen/2 {
			cut = pos + 2
		} else if pos := lastSentenceEnd(remaining, maxLen); pos > maxLen/2 {
			cut = pos + 2
		} else if pos := lastIndexWithin(remaining, " ", maxLen); pos > maxLen/2 {
			cut = pos + 1
		}

		chunk := strings.TrimSpace(remaining[:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// lastIndexWithin finds the last occurrence of sep starting at or before
// position limit.
func lastIndexWithin(s, sep string, limit int) int {
	end := limit + len(sep)
	if end > len(s) {
		end = len(s)
	}
	return strings.LastIndex(s[:end], sep)
}

// lastSentenceEnd finds the latest ". ", "! " or "? " starting at or before
// position limit.
func lastSentenceEnd(s string, limit int) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if pos := lastIndexWithin(s, sep, limit); pos > best {
			best = pos
		}
	}
	return best
}

// Sender delivers replies, chunking them when they exceed the WhatsApp
// message size limit.
type Sender struct {
	client Client
	delay  time.Duration
	sleep  func(time.Duration)
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithChunkDelay overrides the pause between chunks.
func WithChunkDelay(d time.Duration) SenderOption {
	return func(s *Sender) { s.delay = d }
}

// WithSleepFunc overrides the sleep implementation, used by tests.
func WithSleepFunc(f func(time.Duration)) SenderOption {
	return func(s *Sender) { s.sleep = f }
}

// NewSender wraps a client with chunked delivery.
func NewSender(client Client, opts ...SenderOption) *Sender {
	s := &Sender{client: client, delay: DefaultChunkDelay, sleep: time.Sleep}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendReply delivers text to a recipient, splitting it into numbered chunks
// when it exceeds ChunkLimit. Chunks are sent strictly in order with a short
// pause between them; a mid-sequence failure stops delivery and returns the
// error. The returned result is for the last chunk that was sent.
func (s *Sender) SendReply(ctx context.Context, to, text string) (*SendResult, error) {
	chunks := SplitMessage(text, ChunkLimit)
	if len(chunks) == 0 {
		return nil, models.ErrEmptyMessage
	}

	if len(chunks) == 1 {
		return s.client.SendMessage(ctx, to, chunks[0], "")
	}

	slog.Info("Sender.SendReply: splitting long reply", "to", to, "chunks", len(chunks))
	var last *SendResult
	for i, chunk := range chunks {
		body := fmt.Sprintf("%s\n\n(%d/%d)", chunk, i+1, len(chunks))
		result, err := s.client.SendMessage(ctx, to, body, "")
		if err != nil {
			slog.Error("Sender.SendReply: chunk delivery failed", "to", to, "chunk", i+1, "total", len(chunks), "error", err)
			return last, fmt.Errorf("failed to send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		last = result
		if i < len(chunks)-1 {
			s.sleep(s.delay)
		}
	}
	return last, nil
}
