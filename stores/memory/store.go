package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat-relay/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore keeps every record in process memory. State is scoped to the
// instance so independent stores never share data.
type memStore struct {
	mu            sync.RWMutex
	users         map[string]*core.User
	conversations map[string]*core.Conversation
	// direct maps core.DirectKey(a, b) to the conversation id.
	direct map[string]string
	// memberships maps userID to the set of conversation ids.
	memberships map[string]map[string]struct{}
	messages    map[string]*core.Message
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		users:         make(map[string]*core.User),
		conversations: make(map[string]*core.Conversation),
		direct:        make(map[string]string),
		memberships:   make(map[string]map[string]struct{}),
		messages:      make(map[string]*core.Message),
	}
}

func (s *memStore) FindUser(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	cp := *user
	return &cp, nil
}

func (s *memStore) UpsertUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.ID]; ok {
		if user.Name != "" {
			existing.Name = user.Name
		}
		return nil
	}
	s.users[user.ID] = &core.User{ID: user.ID, Name: user.Name, LastSeen: user.LastSeen}
	logrus.WithField("user_id", user.ID).Debug("User created")
	return nil
}

func (s *memStore) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	user.LastSeen = at
	return nil
}

func (s *memStore) FindOrCreateDirect(ctx context.Context, a, b string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := core.DirectKey(a, b)
	if id, ok := s.direct[key]; ok {
		return s.conversations[id].Clone(), nil
	}

	conv, err := core.NewDirectConversation(ulid.Make().String(), a, b, time.Now())
	if err != nil {
		return nil, err
	}
	s.insertConversation(conv)
	s.direct[key] = conv.ID

	logrus.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"participants":    conv.Participants,
	}).Info("Direct conversation created")
	return conv.Clone(), nil
}

func (s *memStore) CreateGroup(ctx context.Context, name, adminID string, participants []string) (*core.Conversation, error) {
	conv, err := core.NewGroupConversation(ulid.Make().String(), name, adminID, participants, time.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertConversation(conv)

	logrus.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"participants":    len(conv.Participants),
	}).Info("Group conversation created")
	return conv.Clone(), nil
}

// insertConversation must be called with s.mu held.
func (s *memStore) insertConversation(conv *core.Conversation) {
	s.conversations[conv.ID] = conv
	for _, uid := range conv.Participants {
		set, ok := s.memberships[uid]
		if !ok {
			set = make(map[string]struct{})
			s.memberships[uid] = set
		}
		set[conv.ID] = struct{}{}
	}
}

func (s *memStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	return conv.Clone(), nil
}

func (s *memStore) FindConversationsForUser(ctx context.Context, userID string) ([]*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Conversation, 0, len(s.memberships[userID]))
	for id := range s.memberships[userID] {
		out = append(out, s.conversations[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.memberships[userID][conversationID]
	return ok, nil
}

func (s *memStore) AppendMessage(ctx context.Context, msg *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, core.ErrNotFound)
	}
	if _, dup := s.messages[msg.ID]; dup {
		return fmt.Errorf("message %s already exists", msg.ID)
	}

	stored := msg.Clone()
	stored.Sender = nil
	s.messages[msg.ID] = stored
	conv.LastMessageID = msg.ID
	conv.LastActivity = msg.CreatedAt

	logrus.WithFields(logrus.Fields{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	}).Debug("Message stored")
	return nil
}

func (s *memStore) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return msg.Clone(), nil
}

func (s *memStore) AppendReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return false, fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
	}
	if msg.HasRead(userID) {
		return false, nil
	}
	msg.ReadBy = append(msg.ReadBy, core.ReadReceipt{UserID: userID, ReadAt: at})
	return true, nil
}

func (s *memStore) Close() error {
	return nil
}
