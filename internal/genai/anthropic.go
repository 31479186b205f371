package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dadabora/chatflow/internal/models"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
	anthropicTimeout    = 120 * time.Second
)

// AnthropicProvider implements ReplyProvider using the Anthropic messages
// API. Unlike OpenAI, the system instruction travels in a dedicated request
// field rather than as a message.
type AnthropicProvider struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// WithAnthropicBaseURL overrides the API base URL, used by tests.
func WithAnthropicBaseURL(base string) AnthropicOption {
	return func(p *AnthropicProvider) { p.apiBase = strings.TrimSuffix(base, "/") }
}

// NewAnthropicProvider creates a provider authenticated with the given API key.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:  apiKey,
		apiBase: anthropicAPIBase,
		client:  &http.Client{Timeout: anthropicTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type anthropicRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Messages  []anthropicMsg `json:"messages"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Generate sends the assembled prompt as a single messages API request.
func (p *AnthropicProvider) Generate(ctx context.Context, req ChatRequest) (string, error) {
	msgs := make([]anthropicMsg, 0, len(req.Turns)+1)
	for _, turn := range req.Turns {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, anthropicMsg{Role: role, Content: turn.Content})
	}
	msgs = append(msgs, anthropicMsg{Role: "user", Content: req.UserText})

	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  msgs,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}

	var textParts []string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	return strings.Join(textParts, ""), nil
}
