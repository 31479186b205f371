package genai

import (
	"context"
	"fmt"

	"github.com/dadabora/chatflow/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIProvider implements ReplyProvider using the OpenAI chat completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider authenticated with the given API key.
// Additional request options (e.g. option.WithBaseURL) are passed through,
// which tests use to point at a stub server.
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{client: openai.NewClient(reqOpts...)}
}

// Generate sends the assembled prompt as a single chat completion request.
// The system instruction travels as the leading message of the array.
func (p *OpenAIProvider) Generate(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+2)
	messages = append(messages, openai.SystemMessage(req.System))
	for _, turn := range req.Turns {
		if turn.Role == models.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.UserText))

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: param.NewOpt(req.Temperature),
		MaxTokens:   param.NewOpt(int64(req.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
