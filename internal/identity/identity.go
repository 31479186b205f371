// Package identity maps real contact addresses to anonymous persistent chat
// identities. The raw phone number is never persisted: a one-way derived tag
// substitutes for it in storage, and each new conversation gets a random
// human-readable display name.
package identity

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/dadabora/chatflow/internal/models"
	"github.com/dadabora/chatflow/internal/util"
)

var adjectives = []string{
	"Swift", "Bright", "Calm", "Wise", "Kind",
	"Bold", "Gentle", "Noble", "Clever", "Brave",
	"Happy", "Lucky", "Peaceful", "Vibrant", "Serene",
	"Radiant", "Mighty", "Swift", "Golden", "Silver",
}

var nouns = []string{
	"Lion", "Eagle", "Dolphin", "Phoenix", "Tiger",
	"Wolf", "Falcon", "Panda", "Leopard", "Hawk",
	"Owl", "Fox", "Bear", "Deer", "Swan",
	"Raven", "Butterfly", "Turtle", "Whale", "Sparrow",
}

// HashAddress derives a stable, non-reversible tag from a contact address.
// The same address always yields the same tag. Non-digit characters are
// stripped before hashing, so "+1 (555) 123-4567" and "15551234567" map to
// the same conversation. The hash is a 31-multiplier rolling hash with
// 32-bit wraparound; it obfuscates rather than cryptographically protects.
func HashAddress(address string) string {
	var digits strings.Builder
	for _, c := range address {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}

	var hash int32
	for _, c := range digits.String() {
		hash = hash*31 + int32(c)
	}

	abs := int64(hash)
	if abs < 0 {
		abs = -abs
	}
	return "hash_" + strconv.FormatInt(abs, 36)
}

// AnonymousName generates a random display name in the form
// AdjectiveNoun123. Names are drawn independently per call with no
// uniqueness check; two conversations sharing a name is accepted.
func AnonymousName() string {
	adjective := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	number := rand.Intn(900) + 100
	return fmt.Sprintf("%s%s%d", adjective, noun, number)
}

// NewChatID creates an opaque conversation id.
func NewChatID() string {
	return fmt.Sprintf("chat_%d_%s", time.Now().UnixMilli(), util.GenerateRandomAlphaNumeric(6))
}

// ConversationStore is the subset of the store the mapper needs.
type ConversationStore interface {
	FindConversationByTag(tag string) (*models.Conversation, error)
	CreateConversation(c models.Conversation) error
}

// Mapper resolves contact addresses to conversations, creating a new
// conversation on first contact.
type Mapper struct {
	store ConversationStore
}

// NewMapper creates a Mapper backed by the given store.
func NewMapper(store ConversationStore) *Mapper {
	return &Mapper{store: store}
}

// Resolve looks up the conversation for a contact address, creating one if
// none exists. It returns the conversation id, its anonymous display name,
// and whether a new conversation was created.
//
// The lookup-then-create sequence is not atomic: two concurrent first
// messages from the same new contact can each miss the lookup and create two
// conversations. This matches the upstream behavior and is documented as an
// accepted race; subsequent messages settle on whichever row the tag lookup
// returns first.
func (m *Mapper) Resolve(address string) (conversationID, anonymousName string, isNew bool, err error) {
	tag := HashAddress(address)

	existing, err := m.store.FindConversationByTag(tag)
	if err != nil {
		return "", "", false, fmt.Errorf("conversation lookup failed: %w", err)
	}
	if existing != nil {
		slog.Debug("Mapper.Resolve: found existing conversation", "conversation_id", existing.ID, "tag", tag)
		return existing.ID, existing.AnonymousName, false, nil
	}

	conv := models.Conversation{
		ID:            NewChatID(),
		AnonymousName: AnonymousName(),
		IdentityTag:   tag,
		CreatedAt:     time.Now(),
		Source:        models.SourceTwilioWhatsApp,
	}
	if err := m.store.CreateConversation(conv); err != nil {
		return "", "", false, fmt.Errorf("conversation create failed: %w", err)
	}
	slog.Info("Mapper.Resolve: created new conversation", "conversation_id", conv.ID, "anonymous_name", conv.AnonymousName)
	return conv.ID, conv.AnonymousName, true, nil
}
