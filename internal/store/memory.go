// Package store provides storage backends for chatflow.
//
// This file implements the in-memory store used when no database DSN is
// configured, and throughout the test suite.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/dadabora/chatflow/internal/models"
)

// InMemoryStore keeps all state in process memory. Contents are lost on
// restart; it exists for development and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	messages      map[string][]models.Message // keyed by conversation id
	articles      map[string]models.KnowledgeArticle
	channelConfig *models.ChannelConfig
	botConfig     *models.BotConfig
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		articles:      make(map[string]models.KnowledgeArticle),
	}
}

func (s *InMemoryStore) FindConversationByTag(tag string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.IdentityTag == tag {
			conv := c
			return &conv, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[id]; ok {
		conv := c
		return &conv, nil
	}
	return nil, nil
}

func (s *InMemoryStore) CreateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *InMemoryStore) TouchConversation(id, preview string, at time.Time, incrementUnread bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil
	}
	c.LastMessage = preview
	c.LastMessageTime = at
	if incrementUnread {
		c.UnreadCount++
	}
	s.conversations[id] = c
	return nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

func (s *InMemoryStore) RecentMessages(conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]models.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *InMemoryStore) ListPublishedArticles() ([]models.KnowledgeArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var published []models.KnowledgeArticle
	for _, a := range s.articles {
		if a.Status == models.ArticleStatusPublished {
			published = append(published, a)
		}
	}
	sort.Slice(published, func(i, j int) bool {
		return published[i].Title < published[j].Title
	})
	return published, nil
}

func (s *InMemoryStore) SaveArticle(a models.KnowledgeArticle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = a
	return nil
}

func (s *InMemoryStore) GetChannelConfig() (*models.ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.channelConfig == nil {
		return nil, nil
	}
	cfg := *s.channelConfig
	return &cfg, nil
}

func (s *InMemoryStore) SaveChannelConfig(cfg models.ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelConfig = &cfg
	return nil
}

func (s *InMemoryStore) GetBotConfig() (*models.BotConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.botConfig == nil {
		return nil, nil
	}
	cfg := *s.botConfig
	return &cfg, nil
}

func (s *InMemoryStore) SaveBotConfig(cfg models.BotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.botConfig = &cfg
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
