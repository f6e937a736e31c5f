package devstream

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
)

// ErrNotFound is returned for unknown conversations or messages.
var ErrNotFound = errors.New("not found")

const titleRunes = 50

type conversation struct {
	model.Conversation
	owner    string
	messages []model.Message
}

// Store keeps conversations and messages in memory.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	now           func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		now:           time.Now,
	}
}

// ensure returns the conversation, creating it for owner on first use.
// Conversations of other owners are reported as not found.
func (s *Store) ensure(owner, conversationID string) (*conversation, error) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		now := s.now()
		conv = &conversation{
			Conversation: model.Conversation{
				ID:        conversationID,
				Title:     "New conversation",
				CreatedAt: now,
				UpdatedAt: now,
			},
			owner: owner,
		}
		s.conversations[conversationID] = conv
	}
	if conv.owner != owner {
		return nil, ErrNotFound
	}
	return conv, nil
}

// Append adds a message, creating the conversation if needed.
func (s *Store) Append(owner string, msg model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.ensure(owner, msg.ConversationID)
	if err != nil {
		return model.Message{}, err
	}

	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	msg.CreatedAt = s.now()
	conv.messages = append(conv.messages, msg)

	if conv.MessageCount == 0 && msg.Role == model.RoleUser {
		conv.Title = title(msg.Content)
	}
	if msg.Model != nil {
		conv.Model = *msg.Model
	}
	conv.MessageCount++
	conv.UpdatedAt = msg.CreatedAt

	return msg, nil
}

// History returns a copy of a conversation's messages, empty when the
// conversation does not exist yet.
func (s *Store) History(owner, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []model.Message{}, nil
	}
	if conv.owner != owner {
		return nil, ErrNotFound
	}
	return append([]model.Message{}, conv.messages...), nil
}

// Message returns one message of a conversation.
func (s *Store) Message(owner, conversationID, messageID string) (model.Message, error) {
	history, err := s.History(owner, conversationID)
	if err != nil {
		return model.Message{}, err
	}
	for _, m := range history {
		if m.ID == messageID {
			return m, nil
		}
	}
	return model.Message{}, ErrNotFound
}

// List returns owner's conversations, most recently updated first.
func (s *Store) List(owner string) []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := []model.Conversation{}
	for _, conv := range s.conversations {
		if conv.owner == owner {
			convs = append(convs, conv.Conversation)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs
}

func title(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		return "New conversation"
	}
	runes := []rune(content)
	if len(runes) > titleRunes {
		return string(runes[:titleRunes-3]) + "..."
	}
	return content
}
