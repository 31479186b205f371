package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dadabora/chatflow/internal/identity"
	"github.com/dadabora/chatflow/internal/models"
	"github.com/dadabora/chatflow/internal/ratelimit"
	"github.com/dadabora/chatflow/internal/twiliowhatsapp"
)

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.allow(r, "health", ratelimit.HealthLimit) {
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Too many requests"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"service": "chatflow",
		"time":    time.Now().UTC().Format(time.RFC3339),
	}))
}

// sendHandler lets an operator send a WhatsApp message directly. When the
// recipient already has a conversation, the message is appended to its log
// so the dialogue stays complete.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	cfg, err := s.store.GetChannelConfig()
	if err != nil {
		slog.Error("Server.sendHandler: failed to load channel config", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}
	if cfg == nil || !cfg.Enabled {
		writeJSONResponse(w, http.StatusForbidden, models.Error("WhatsApp integration is not enabled"))
		return
	}

	client, err := s.opts.ClientFactory(*cfg)
	if err != nil {
		slog.Error("Server.sendHandler: failed to build WhatsApp client", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}

	var result *twiliowhatsapp.SendResult
	if req.MediaURL != "" {
		result, err = client.SendMessage(r.Context(), req.To, req.Message, req.MediaURL)
	} else {
		sender := twiliowhatsapp.NewSender(client, s.opts.SenderOpts...)
		result, err = sender.SendReply(r.Context(), req.To, req.Message)
	}
	if err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	s.recordOperatorMessage(req.To, req.Message, result.SID)

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"sid":    result.SID,
		"status": string(models.MessageStatusSent),
	}))
}

// recordOperatorMessage appends an operator-sent message to the recipient's
// conversation log when one exists. Recipients with no prior inbound
// message have no conversation; the send still succeeds.
func (s *Server) recordOperatorMessage(to, content, sid string) {
	conv, err := s.store.FindConversationByTag(identity.HashAddress(to))
	if err != nil {
		slog.Error("Server.recordOperatorMessage: failed to look up conversation", "error", err)
		return
	}
	if conv == nil {
		return
	}
	now := time.Now()
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Content:        models.SanitizeMessage(content),
		Timestamp:      now,
		IsFromUser:     false,
		ProviderSID:    sid,
	}
	if err := s.store.AddMessage(msg); err != nil {
		slog.Error("Server.recordOperatorMessage: failed to store message", "conversation_id", conv.ID, "error", err)
		return
	}
	if err := s.store.TouchConversation(conv.ID, msg.Content, now, false); err != nil {
		slog.Error("Server.recordOperatorMessage: failed to update conversation preview", "conversation_id", conv.ID, "error", err)
	}
}

// aiTestRequest is the payload for the reply-generator test endpoint.
type aiTestRequest struct {
	Message string `json:"message"`
}

// aiTestHandler runs a one-off prompt through the configured language
// model without touching any conversation, so operators can verify their
// chatbot settings.
func (s *Server) aiTestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.allow(r, "aitest", ratelimit.AITestLimit) {
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Too many requests"))
		return
	}
	if !s.authorized(r) {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
		return
	}

	var req aiTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	if !models.ValidateMessageContent(req.Message) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Message is required"))
		return
	}

	botCfg, err := s.store.GetBotConfig()
	if err != nil {
		slog.Error("Server.aiTestHandler: failed to load chatbot config", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}
	if botCfg == nil || !botCfg.Enabled {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Chatbot is not enabled"))
		return
	}

	reply := s.generator.Reply(r.Context(), botCfg, models.SanitizeMessage(req.Message), nil)
	if reply == "" {
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Reply generation failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}
