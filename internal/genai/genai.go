// Package genai generates chatbot replies through external language-model
// providers.
//
// Two backends are supported, OpenAI and Anthropic, behind a common
// ReplyProvider interface. A disabled or missing chatbot configuration is a
// valid terminal state: the generator returns an empty reply and the
// webhook pipeline carries on without sending anything.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dadabora/chatflow/internal/models"
)

// Defaults applied when the chatbot configuration leaves fields unset.
const (
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 500
	DefaultOpenAIModel    = "gpt-4-turbo-preview"
	DefaultAnthropicModel = "claude-3-opus-20240229"
)

// ChatRequest is the provider-neutral form of one reply generation call.
type ChatRequest struct {
	System      string
	Turns       []models.Turn
	UserText    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ReplyProvider generates one reply for an assembled prompt. Implementations
// return an error for any failure (non-2xx, malformed body, network); the
// Generator swallows and logs those, so providers should not log-and-drop
// themselves.
type ReplyProvider interface {
	Generate(ctx context.Context, req ChatRequest) (string, error)
}

// KnowledgeStore is the subset of the store the generator reads.
type KnowledgeStore interface {
	ListPublishedArticles() ([]models.KnowledgeArticle, error)
}

// ProviderFactory selects a ReplyProvider for a loaded configuration, or
// nil when the configuration names no usable backend.
type ProviderFactory func(cfg models.BotConfig) ReplyProvider

// DefaultProviderFactory builds real HTTP-backed providers from the config's
// provider selector and credentials.
func DefaultProviderFactory(cfg models.BotConfig) ReplyProvider {
	switch cfg.Provider {
	case models.ProviderOpenAI:
		if cfg.OpenAIKey != "" {
			return NewOpenAIProvider(cfg.OpenAIKey)
		}
	case models.ProviderAnthropic:
		if cfg.AnthropicKey != "" {
			return NewAnthropicProvider(cfg.AnthropicKey)
		}
	}
	return nil
}

// Generator assembles prompts and drives a ReplyProvider.
type Generator struct {
	knowledge   KnowledgeStore
	providerFor ProviderFactory
}

// Opts holds configuration options for the Generator.
type Opts struct {
	ProviderFactory ProviderFactory
}

// Option defines a configuration option for the Generator.
type Option func(*Opts)

// WithProviderFactory overrides provider selection, used by tests to inject
// stub providers.
func WithProviderFactory(f ProviderFactory) Option {
	return func(o *Opts) { o.ProviderFactory = f }
}

// NewGenerator creates a Generator reading knowledge articles from the given store.
func NewGenerator(knowledge KnowledgeStore, opts ...Option) *Generator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ProviderFactory == nil {
		cfg.ProviderFactory = DefaultProviderFactory
	}
	return &Generator{knowledge: knowledge, providerFor: cfg.ProviderFactory}
}

// Reply generates a reply for the current user message given the prior
// conversation turns. It returns an empty string when the chatbot is
// disabled or unconfigured, and on any provider failure; failures are
// logged, never propagated, so a broken LLM integration cannot block
// acknowledgement of the inbound message.
func (g *Generator) Reply(ctx context.Context, cfg *models.BotConfig, userText string, turns []models.Turn) string {
	if cfg == nil || !cfg.Enabled {
		slog.Debug("Generator.Reply: chatbot disabled, skipping reply generation")
		return ""
	}

	provider := g.providerFor(*cfg)
	if provider == nil {
		slog.Warn("Generator.Reply: no usable provider for configuration", "provider", cfg.Provider)
		return ""
	}

	req := ChatRequest{
		System:      cfg.SystemPrompt + g.knowledgeDigest(),
		Turns:       turns,
		UserText:    userText,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if req.Temperature == 0 {
		req.Temperature = DefaultTemperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Model == "" {
		switch cfg.Provider {
		case models.ProviderAnthropic:
			req.Model = DefaultAnthropicModel
		default:
			req.Model = DefaultOpenAIModel
		}
	}

	reply, err := provider.Generate(ctx, req)
	if err != nil {
		slog.Error("Generator.Reply: provider call failed", "provider", cfg.Provider, "model", req.Model, "error", err)
		return ""
	}
	return reply
}

// knowledgeDigest renders all published knowledge articles into the block
// appended to the system prompt. Returns an empty string when there are no
// published articles or the fetch fails.
func (g *Generator) knowledgeDigest() string {
	if g.knowledge == nil {
		return ""
	}
	articles, err := g.knowledge.ListPublishedArticles()
	if err != nil {
		slog.Error("Generator.knowledgeDigest: failed to fetch knowledge base", "error", err)
		return ""
	}
	return KnowledgeDigest(articles)
}

// KnowledgeDigest formats published articles as a fixed-format excerpt:
// each article rendered as heading + category label + body, joined with a
// separator, wrapped in an instruction preamble.
func KnowledgeDigest(articles []models.KnowledgeArticle) string {
	if len(articles) == 0 {
		return ""
	}

	rendered := make([]string, 0, len(articles))
	for _, a := range articles {
		rendered = append(rendered, fmt.Sprintf("## %s\nCategory: %s\n%s", a.Title, a.CategoryName, a.Content))
	}

	return "\n\n---\n\nKNOWLEDGE BASE:\nThe following is your knowledge base containing verified information. Use this to provide accurate, consistent responses:\n\n" +
		strings.Join(rendered, "\n\n---\n\n")
}
