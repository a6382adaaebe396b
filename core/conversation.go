package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

type (
	// Conversation is the durable record of a direct or group chat.
	Conversation struct {
		ID            string    `json:"id"`
		Participants  []string  `json:"participants"`
		IsGroup       bool      `json:"isGroup"`
		Name          string    `json:"name,omitempty"`
		AdminID       string    `json:"adminId,omitempty"`
		LastMessageID string    `json:"lastMessageId,omitempty"`
		LastActivity  time.Time `json:"lastActivity"`
		CreatedAt     time.Time `json:"createdAt"`
	}

	ReadReceipt struct {
		UserID string    `json:"userId"`
		ReadAt time.Time `json:"readAt"`
	}

	// Message is append-only: only ReadBy grows after creation.
	Message struct {
		ID             string        `json:"id"`
		ConversationID string        `json:"conversationId"`
		SenderID       string        `json:"senderId"`
		Sender         *User         `json:"sender,omitempty"`
		Content        string        `json:"content"`
		Type           MessageType   `json:"type"`
		CreatedAt      time.Time     `json:"createdAt"`
		ReadBy         []ReadReceipt `json:"readBy"`
	}

	// ConversationStore defines the persistence layer for conversations.
	// All operations must be safe for concurrent use.
	ConversationStore interface {
		// FindOrCreateDirect returns the single non-group conversation between a and b,
		// creating it on first use.
		FindOrCreateDirect(ctx context.Context, a, b string) (*Conversation, error)

		// CreateGroup stores a new group conversation administered by adminID.
		CreateGroup(ctx context.Context, name, adminID string, participants []string) (*Conversation, error)

		GetConversation(ctx context.Context, id string) (*Conversation, error)

		// FindConversationsForUser lists every conversation userID participates in.
		FindConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)

		IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	}

	// MessageStore defines the persistence layer for messages.
	MessageStore interface {
		// AppendMessage persists msg and moves the conversation's last message and
		// activity time to it in a single step.
		AppendMessage(ctx context.Context, msg *Message) error

		GetMessage(ctx context.Context, id string) (*Message, error)

		// AppendReadReceipt adds userID to the message's readers. It reports false
		// when the user had already read the message.
		AppendReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error)
	}
)

// Valid reports whether t is a recognized message kind.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// NormalizeParticipants trims, de-duplicates and sorts participant ids.
func NormalizeParticipants(ids []string) []string {
	trimmed := lo.FilterMap(ids, func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	})
	out := lo.Uniq(trimmed)
	sort.Strings(out)
	return out
}

// DirectKey is the order-independent key of the direct conversation between a
// and b. The first id is length-prefixed so ids containing the separator can
// not collide: ("a:b","c") and ("a","b:c") map to different keys.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + ":" + b
}

// Validate checks the direct/group shape rules of a conversation.
func (c *Conversation) Validate() error {
	participants := NormalizeParticipants(c.Participants)
	if len(participants) != len(c.Participants) {
		return fmt.Errorf("%w: participants must be unique", ErrInvalidConversation)
	}
	if !c.IsGroup {
		if len(participants) != 2 {
			return fmt.Errorf("%w: direct conversation needs exactly 2 participants", ErrInvalidConversation)
		}
		if c.Name != "" || c.AdminID != "" {
			return fmt.Errorf("%w: direct conversation has no name or admin", ErrInvalidConversation)
		}
		return nil
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: group name is required", ErrInvalidConversation)
	}
	if c.AdminID == "" || !lo.Contains(participants, c.AdminID) {
		return fmt.Errorf("%w: group admin must be a participant", ErrInvalidConversation)
	}
	if len(participants) < 2 {
		return fmt.Errorf("%w: group needs at least 2 participants", ErrInvalidConversation)
	}
	return nil
}

func (c *Conversation) HasParticipant(userID string) bool {
	return lo.Contains(c.Participants, userID)
}

// Clone returns a deep copy so callers can not alias store state.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}

// HasRead reports whether userID is already in the message's readers.
func (m *Message) HasRead(userID string) bool {
	return lo.ContainsBy(m.ReadBy, func(r ReadReceipt) bool { return r.UserID == userID })
}

func (m *Message) Clone() *Message {
	cp := *m
	cp.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	if m.Sender != nil {
		sender := *m.Sender
		cp.Sender = &sender
	}
	return &cp
}

// NewDirectConversation builds the direct conversation record for a and b.
func NewDirectConversation(id, a, b string, now time.Time) (*Conversation, error) {
	conv := &Conversation{
		ID:           id,
		Participants: NormalizeParticipants([]string{a, b}),
		LastActivity: now,
		CreatedAt:    now,
	}
	if len(conv.Participants) != 2 {
		return nil, fmt.Errorf("%w: direct conversation needs two distinct users", ErrInvalidConversation)
	}
	return conv, nil
}

// NewGroupConversation builds a group record; the admin is always a participant.
func NewGroupConversation(id, name, adminID string, participants []string, now time.Time) (*Conversation, error) {
	conv := &Conversation{
		ID:           id,
		Participants: NormalizeParticipants(append(append([]string(nil), participants...), adminID)),
		IsGroup:      true,
		Name:         strings.TrimSpace(name),
		AdminID:      adminID,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	return conv, nil
}
