package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dadabora/chatflow/internal/history"
	"github.com/dadabora/chatflow/internal/models"
	"github.com/dadabora/chatflow/internal/ratelimit"
	"github.com/dadabora/chatflow/internal/twiliowhatsapp"
)

// webhookHandler processes inbound WhatsApp messages delivered by Twilio.
//
// Only authentication failures and rate limiting produce non-2xx responses.
// Once a request is accepted, every downstream failure is logged and
// answered with an empty TwiML acknowledgement so Twilio does not retry
// the delivery.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !s.allow(r, "webhook", ratelimit.WebhookLimit) {
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Too many requests"))
		return
	}

	cfg, err := s.store.GetChannelConfig()
	if err != nil {
		slog.Error("Server.webhookHandler: failed to load channel config", "error", err)
		writeJSONResponse(w, http.StatusForbidden, models.Error("WhatsApp integration is not enabled"))
		return
	}
	if cfg == nil || !cfg.Enabled {
		writeJSONResponse(w, http.StatusForbidden, models.Error("WhatsApp integration is not enabled"))
		return
	}
	// No shared secret means no way to authenticate deliveries. Fail
	// closed: an empty HMAC key would accept anyone who signs with it.
	if cfg.AuthToken == "" {
		slog.Error("Server.webhookHandler: channel config has no auth token, rejecting delivery")
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookHandler: failed to parse form body", "error", err)
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return
	}
	signature := r.Header.Get("X-Twilio-Signature")
	params := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		params[key] = r.PostForm.Get(key)
	}
	if signature == "" || !s.opts.Validator(cfg.AuthToken, s.webhookURL(r), params, signature) {
		slog.Warn("Server.webhookHandler: rejected request with invalid signature", "ip", clientIP(r))
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
		return
	}

	from := strings.TrimPrefix(r.PostForm.Get("From"), "whatsapp:")
	body := r.PostForm.Get("Body")
	messageSID := r.PostForm.Get("MessageSid")
	mediaURL := r.PostForm.Get("MediaUrl0")
	numMedia, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))

	if from == "" || !models.ValidateMessageContent(body) {
		slog.Debug("Server.webhookHandler: ignoring delivery without usable sender or content",
			"has_from", from != "", "body_len", len(body))
		writeTwiML(w)
		return
	}
	text := models.SanitizeMessage(body)

	conversationID, anonymousName, isNew, err := s.mapper.Resolve(from)
	if err != nil {
		slog.Error("Server.webhookHandler: failed to resolve conversation", "error", err)
		writeTwiML(w)
		return
	}
	slog.Debug("Server.webhookHandler: resolved conversation",
		"conversation_id", conversationID, "anonymous_name", anonymousName, "new", isNew)

	now := time.Now()
	inbound := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        text,
		Timestamp:      now,
		IsFromUser:     true,
		ProviderSID:    messageSID,
		MediaURL:       mediaURL,
		NumMedia:       numMedia,
	}
	if err := s.store.AddMessage(inbound); err != nil {
		slog.Error("Server.webhookHandler: failed to store inbound message", "conversation_id", conversationID, "error", err)
		writeTwiML(w)
		return
	}
	if err := s.store.TouchConversation(conversationID, text, now, true); err != nil {
		slog.Error("Server.webhookHandler: failed to update conversation preview", "conversation_id", conversationID, "error", err)
	}

	turns, err := history.Build(s.store, conversationID, messageSID, s.opts.HistoryWindow)
	if err != nil {
		slog.Error("Server.webhookHandler: failed to build context window", "conversation_id", conversationID, "error", err)
		turns = nil
	}

	botCfg, err := s.store.GetBotConfig()
	if err != nil {
		slog.Error("Server.webhookHandler: failed to load chatbot config", "error", err)
		botCfg = nil
	}
	reply := s.generator.Reply(r.Context(), botCfg, text, turns)
	if reply == "" {
		writeTwiML(w)
		return
	}

	client, err := s.opts.ClientFactory(*cfg)
	if err != nil {
		slog.Error("Server.webhookHandler: failed to build WhatsApp client", "error", err)
		writeTwiML(w)
		return
	}
	sender := twiliowhatsapp.NewSender(client, s.opts.SenderOpts...)
	result, err := sender.SendReply(r.Context(), from, reply)
	if err != nil {
		slog.Error("Server.webhookHandler: failed to deliver reply", "conversation_id", conversationID, "error", err)
		writeTwiML(w)
		return
	}

	sentAt := time.Now()
	outbound := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        reply,
		Timestamp:      sentAt,
		IsFromUser:     false,
		ProviderSID:    result.SID,
	}
	if err := s.store.AddMessage(outbound); err != nil {
		slog.Error("Server.webhookHandler: failed to store outbound message", "conversation_id", conversationID, "error", err)
	}
	if err := s.store.TouchConversation(conversationID, reply, sentAt, false); err != nil {
		slog.Error("Server.webhookHandler: failed to update conversation preview", "conversation_id", conversationID, "error", err)
	}

	writeTwiML(w)
}
