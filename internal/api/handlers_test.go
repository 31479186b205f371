package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dadabora/chatflow/internal/identity"
	"github.com/dadabora/chatflow/internal/models"
)

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusOK) {
		t.Errorf("status field = %q, want ok", resp.Status)
	}

	if rec := env.do(http.MethodPost, "/api/health", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestSendHandlerAuth(t *testing.T) {
	env := newTestEnv(t)
	env.enableChannel(t)

	if rec := env.do(http.MethodPost, "/api/whatsapp/send", "", `{"to":"+1555","message":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/whatsapp/send", "wrong", `{"to":"+1555","message":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}
}

func TestSendHandlerValidation(t *testing.T) {
	env := newTestEnv(t)
	env.enableChannel(t)

	if rec := env.do(http.MethodPost, "/api/whatsapp/send", "admin-secret", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/whatsapp/send", "admin-secret", `{"message":"hi"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing recipient: status = %d, want 400", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/whatsapp/send", "admin-secret", `{"to":"+1555"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing message: status = %d, want 400", rec.Code)
	}
}

func TestSendHandlerRequiresEnabledChannel(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/whatsapp/send", "admin-secret", `{"to":"+1555","message":"hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 without channel config", rec.Code)
	}
}

func TestSendHandlerDelivers(t *testing.T) {
	env := newTestEnv(t)
	env.enableChannel(t)

	rec := env.do(http.MethodPost, "/api/whatsapp/send", "admin-secret", `{"to":"+15551234567","message":"checking in"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	result, ok := resp.Result.(map[string]interface{})
	if !ok || result["sid"] == "" {
		t.Errorf("response missing delivery sid: %+v", resp)
	}

	sent := env.client.Sent()
	if len(sent) != 1 || sent[0].To != "+15551234567" || sent[0].Body != "checking in" {
		t.Errorf("delivery wrong: %+v", sent)
	}
}

func TestSendHandlerRecordsIntoExistingConversation(t *testing.T) {
	env := newTestEnv(t)
	env.enableChannel(t)

	conv := models.Conversation{
		ID:            identity.NewChatID(),
		AnonymousName: identity.AnonymousName(),
		IdentityTag:   identity.HashAddress("+15551234567"),
		CreatedAt:     time.Now(),
		Source:        models.SourceTwilioWhatsApp,
	}
	if err := env.store.CreateConversation(conv); err != nil {
		t.Fatal(err)
	}

	rec := env.do(http.MethodPost, "/api/whatsapp/send", "admin-secret", `{"to":"+15551234567","message":"operator note"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	msgs, err := env.store.RecentMessages(conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].IsFromUser || msgs[0].Content != "operator note" {
		t.Errorf("operator message not recorded: %+v", msgs)
	}

	got, _ := env.store.GetConversation(conv.ID)
	if got.UnreadCount != 0 {
		t.Errorf("operator message must not bump unread, got %d", got.UnreadCount)
	}
	if got.LastMessage != "operator note" {
		t.Errorf("preview = %q", got.LastMessage)
	}
}

func TestSendHandlerMediaMessage(t *testing.T) {
	env := newTestEnv(t)
	env.enableChannel(t)

	body := `{"to":"+15551234567","message":"see attached","media_url":"https://example.com/img.png"}`
	rec := env.do(http.MethodPost, "/api/whatsapp/send", "admin-secret", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	sent := env.client.Sent()
	if len(sent) != 1 || sent[0].MediaURL != "https://example.com/img.png" {
		t.Errorf("media url not forwarded: %+v", sent)
	}
}

func TestAITestHandler(t *testing.T) {
	env := newTestEnv(t)
	env.enableBot(t)
	env.provider.reply = "configured and working"

	rec := env.do(http.MethodPost, "/api/ai/test", "admin-secret", `{"message":"ping"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	result, ok := resp.Result.(map[string]interface{})
	if !ok || result["reply"] != "configured and working" {
		t.Errorf("reply not returned: %+v", resp)
	}
	if len(env.provider.requests) != 1 || env.provider.requests[0].UserText != "ping" {
		t.Errorf("provider saw %+v", env.provider.requests)
	}
	if len(env.provider.requests[0].Turns) != 0 {
		t.Error("test prompts must not carry conversation context")
	}
}

func TestAITestHandlerGuards(t *testing.T) {
	env := newTestEnv(t)
	env.enableBot(t)

	if rec := env.do(http.MethodPost, "/api/ai/test", "", `{"message":"ping"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/ai/test", "admin-secret", `{"message":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message: status = %d, want 400", rec.Code)
	}
}

func TestAITestHandlerBotDisabled(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/ai/test", "admin-secret", `{"message":"ping"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 when chatbot is not enabled", rec.Code)
	}
}

func TestAdminTokenUnsetDisablesEndpoints(t *testing.T) {
	env := newTestEnv(t, WithAdminToken(""))
	env.enableChannel(t)
	rec := env.do(http.MethodPost, "/api/whatsapp/send", "", `{"to":"+1555","message":"hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when no admin token is configured", rec.Code)
	}
}
