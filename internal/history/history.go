// Package history builds the bounded role-tagged context window handed to
// the language model for conversational continuity.
package history

import (
	"fmt"

	"github.com/dadabora/chatflow/internal/models"
)

// DefaultWindow is how many stored messages are fetched for context.
// The just-stored inbound message is excluded, so at most DefaultWindow-1
// turns reach the model.
const DefaultWindow = 5

// MessageStore is the subset of the store the builder needs.
type MessageStore interface {
	RecentMessages(conversationID string, limit int) ([]models.Message, error)
}

// Build returns the conversation's recent history as chronological
// role-tagged turns. The message whose provider sid equals currentSID is
// excluded: it is supplied to the model separately as the current user turn.
// That holds for an empty currentSID too, so a delivery that arrived
// without a sid does not re-enter the window as a duplicate user turn.
// The result is never nil, only possibly empty.
func Build(store MessageStore, conversationID, currentSID string, limit int) ([]models.Turn, error) {
	if limit <= 0 {
		limit = DefaultWindow
	}

	recent, err := store.RecentMessages(conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("history fetch failed: %w", err)
	}

	turns := make([]models.Turn, 0, len(recent))
	// recent is newest-first; walk backwards to restore chronological order.
	for i := len(recent) - 1; i >= 0; i-- {
		msg := recent[i]
		if msg.ProviderSID == currentSID {
			continue
		}
		role := models.RoleAssistant
		if msg.IsFromUser {
			role = models.RoleUser
		}
		turns = append(turns, models.Turn{Role: role, Content: msg.Content})
	}
	return turns, nil
}
