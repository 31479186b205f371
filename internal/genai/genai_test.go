package genai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dadabora/chatflow/internal/models"
)

// stubProvider records the request it received and returns a canned reply.
type stubProvider struct {
	reply string
	err   error
	got   *ChatRequest
}

func (s *stubProvider) Generate(ctx context.Context, req ChatRequest) (string, error) {
	s.got = &req
	return s.reply, s.err
}

// stubKnowledge returns canned articles.
type stubKnowledge struct {
	articles []models.KnowledgeArticle
	err      error
}

func (s *stubKnowledge) ListPublishedArticles() ([]models.KnowledgeArticle, error) {
	return s.articles, s.err
}

func generatorWith(provider ReplyProvider, knowledge KnowledgeStore) *Generator {
	return NewGenerator(knowledge, WithProviderFactory(func(models.BotConfig) ReplyProvider {
		return provider
	}))
}

func TestReplySkipsWhenDisabled(t *testing.T) {
	provider := &stubProvider{reply: "should not appear"}
	g := generatorWith(provider, &stubKnowledge{})

	if got := g.Reply(context.Background(), &models.BotConfig{Enabled: false}, "hi", nil); got != "" {
		t.Errorf("disabled config should yield empty reply, got %q", got)
	}
	if got := g.Reply(context.Background(), nil, "hi", nil); got != "" {
		t.Errorf("absent config should yield empty reply, got %q", got)
	}
	if provider.got != nil {
		t.Error("provider must not be called when the chatbot is disabled")
	}
}

func TestReplySkipsWithoutUsableProvider(t *testing.T) {
	g := NewGenerator(&stubKnowledge{}) // real factory, no credentials
	cfg := &models.BotConfig{Enabled: true, Provider: models.ProviderOpenAI}
	if got := g.Reply(context.Background(), cfg, "hi", nil); got != "" {
		t.Errorf("config without credentials should yield empty reply, got %q", got)
	}
}

func TestReplySwallowsProviderFailure(t *testing.T) {
	provider := &stubProvider{err: errors.New("llm down")}
	g := generatorWith(provider, &stubKnowledge{})
	cfg := &models.BotConfig{Enabled: true, Provider: models.ProviderOpenAI, OpenAIKey: "k"}

	if got := g.Reply(context.Background(), cfg, "hi", nil); got != "" {
		t.Errorf("provider failure should yield empty reply, got %q", got)
	}
}

func TestReplyAppliesDefaults(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	g := generatorWith(provider, &stubKnowledge{})
	cfg := &models.BotConfig{Enabled: true, Provider: models.ProviderOpenAI, OpenAIKey: "k"}

	if got := g.Reply(context.Background(), cfg, "hi", nil); got != "ok" {
		t.Fatalf("got %q, want ok", got)
	}
	if provider.got.Temperature != DefaultTemperature {
		t.Errorf("temperature = %v, want default %v", provider.got.Temperature, DefaultTemperature)
	}
	if provider.got.MaxTokens != DefaultMaxTokens {
		t.Errorf("max tokens = %d, want default %d", provider.got.MaxTokens, DefaultMaxTokens)
	}
	if provider.got.Model != DefaultOpenAIModel {
		t.Errorf("model = %q, want default %q", provider.got.Model, DefaultOpenAIModel)
	}
}

func TestReplyDefaultsAnthropicModel(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	g := generatorWith(provider, &stubKnowledge{})
	cfg := &models.BotConfig{Enabled: true, Provider: models.ProviderAnthropic, AnthropicKey: "k"}

	g.Reply(context.Background(), cfg, "hi", nil)
	if provider.got.Model != DefaultAnthropicModel {
		t.Errorf("model = %q, want default %q", provider.got.Model, DefaultAnthropicModel)
	}
}

func TestReplyIncludesKnowledgeDigest(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	knowledge := &stubKnowledge{articles: []models.KnowledgeArticle{
		{Title: "Sleep", CategoryName: "Wellness", Content: "Sleep 8 hours."},
	}}
	g := generatorWith(provider, knowledge)
	cfg := &models.BotConfig{Enabled: true, Provider: models.ProviderOpenAI, OpenAIKey: "k", SystemPrompt: "You are Dada Bora."}

	g.Reply(context.Background(), cfg, "hi", nil)
	if !strings.HasPrefix(provider.got.System, "You are Dada Bora.") {
		t.Errorf("system prompt should lead: %q", provider.got.System)
	}
	if !strings.Contains(provider.got.System, "KNOWLEDGE BASE:") {
		t.Error("system prompt missing knowledge base preamble")
	}
	if !strings.Contains(provider.got.System, "## Sleep\nCategory: Wellness\nSleep 8 hours.") {
		t.Errorf("article not rendered as heading+category+body: %q", provider.got.System)
	}
}

func TestReplyKnowledgeFetchFailureDegrades(t *testing.T) {
	provider := &stubProvider{reply: "ok"}
	g := generatorWith(provider, &stubKnowledge{err: errors.New("store down")})
	cfg := &models.BotConfig{Enabled: true, Provider: models.ProviderOpenAI, OpenAIKey: "k", SystemPrompt: "base"}

	if got := g.Reply(context.Background(), cfg, "hi", nil); got != "ok" {
		t.Fatalf("knowledge failure must not block the reply, got %q", got)
	}
	if provider.got.System != "base" {
		t.Errorf("system prompt should fall back to base only, got %q", provider.got.System)
	}
}

func TestKnowledgeDigestEmpty(t *testing.T) {
	if got := KnowledgeDigest(nil); got != "" {
		t.Errorf("no articles should render empty digest, got %q", got)
	}
}

func TestKnowledgeDigestJoinsWithSeparator(t *testing.T) {
	digest := KnowledgeDigest([]models.KnowledgeArticle{
		{Title: "A", CategoryName: "C1", Content: "one"},
		{Title: "B", CategoryName: "C2", Content: "two"},
	})
	if strings.Count(digest, "\n\n---\n\n") != 2 {
		t.Errorf("expected preamble separator plus one joining separator, got %q", digest)
	}
}

func TestAnthropicProviderGenerate(t *testing.T) {
	var gotReq anthropicRequest
	var gotVersion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "hello "}, {"type": "text", "text": "there"}},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("secret", WithAnthropicBaseURL(srv.URL))
	reply, err := p.Generate(context.Background(), ChatRequest{
		System:    "sys",
		Turns:     []models.Turn{{Role: models.RoleUser, Content: "q1"}, {Role: models.RoleAssistant, Content: "a1"}},
		UserText:  "q2",
		Model:     "claude-3-opus-20240229",
		MaxTokens: 500,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q, want concatenated text blocks", reply)
	}
	if gotKey != "secret" || gotVersion != "2023-06-01" {
		t.Errorf("auth headers wrong: key=%q version=%q", gotKey, gotVersion)
	}
	if gotReq.System != "sys" {
		t.Errorf("system should travel in dedicated field, got %q", gotReq.System)
	}
	if len(gotReq.Messages) != 3 || gotReq.Messages[2].Content != "q2" || gotReq.Messages[2].Role != "user" {
		t.Errorf("messages malformed: %+v", gotReq.Messages)
	}
}

func TestAnthropicProviderNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("secret", WithAnthropicBaseURL(srv.URL))
	if _, err := p.Generate(context.Background(), ChatRequest{UserText: "hi", MaxTokens: 10}); err == nil {
		t.Error("non-2xx should surface as error to the generator")
	}
}

func TestDefaultProviderFactory(t *testing.T) {
	if p := DefaultProviderFactory(models.BotConfig{Provider: models.ProviderOpenAI, OpenAIKey: "k"}); p == nil {
		t.Error("openai with key should yield a provider")
	}
	if p := DefaultProviderFactory(models.BotConfig{Provider: models.ProviderAnthropic, AnthropicKey: "k"}); p == nil {
		t.Error("anthropic with key should yield a provider")
	}
	if p := DefaultProviderFactory(models.BotConfig{Provider: models.ProviderOpenAI}); p != nil {
		t.Error("missing key should yield nil provider")
	}
	if p := DefaultProviderFactory(models.BotConfig{Provider: "mystery"}); p != nil {
		t.Error("unknown provider should yield nil")
	}
}
