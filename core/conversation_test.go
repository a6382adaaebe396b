package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeParticipants(t *testing.T) {
	req := require.New(t)
	got := NormalizeParticipants([]string{" bob", "alice", "bob", "", "alice "})
	req.Equal([]string{"alice", "bob"}, got)
}

func TestDirectKey_OrderIndependent(t *testing.T) {
	req := require.New(t)
	req.Equal(DirectKey("a", "b"), DirectKey("b", "a"))
	req.NotEqual(DirectKey("a", "b"), DirectKey("a", "c"))
}

func TestDirectKey_SeparatorInIDs(t *testing.T) {
	req := require.New(t)
	req.NotEqual(DirectKey("a:b", "c"), DirectKey("a", "b:c"))
	req.NotEqual(DirectKey("a", "b:c"), DirectKey("a:b:c", ""))
	req.Equal(DirectKey("a:b", "c"), DirectKey("c", "a:b"))
}

func TestNewDirectConversation(t *testing.T) {
	req := require.New(t)
	now := time.Now()

	conv, err := NewDirectConversation("c1", "bob", "alice", now)
	req.NoError(err)
	req.Equal([]string{"alice", "bob"}, conv.Participants)
	req.False(conv.IsGroup)
	req.NoError(conv.Validate())

	_, err = NewDirectConversation("c2", "alice", "alice", now)
	req.True(errors.Is(err, ErrInvalidConversation))
}

func TestNewGroupConversation(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	members := []string{"bob", "carol"}

	conv, err := NewGroupConversation("g1", " friends ", "alice", members, now)
	req.NoError(err)
	req.Equal("friends", conv.Name)
	req.Equal([]string{"alice", "bob", "carol"}, conv.Participants)
	req.True(conv.HasParticipant("alice"))
	req.Equal([]string{"bob", "carol"}, members)

	_, err = NewGroupConversation("g2", "", "alice", members, now)
	req.True(errors.Is(err, ErrInvalidConversation))
}

func TestConversationValidate_RejectsDirectWithName(t *testing.T) {
	conv := &Conversation{ID: "c", Participants: []string{"a", "b"}, Name: "oops"}
	require.ErrorIs(t, conv.Validate(), ErrInvalidConversation)
}

func TestMessageHasReadAndClone(t *testing.T) {
	req := require.New(t)
	msg := &Message{
		ID:     "m1",
		Sender: &User{ID: "alice"},
		ReadBy: []ReadReceipt{{UserID: "alice", ReadAt: time.Now()}},
	}
	req.True(msg.HasRead("alice"))
	req.False(msg.HasRead("bob"))

	cp := msg.Clone()
	cp.ReadBy = append(cp.ReadBy, ReadReceipt{UserID: "bob"})
	cp.Sender.Name = "changed"
	req.Len(msg.ReadBy, 1)
	req.Empty(msg.Sender.Name)
}

func TestMessageTypeValid(t *testing.T) {
	req := require.New(t)
	req.True(MessageTypeText.Valid())
	req.True(MessageTypeFile.Valid())
	req.False(MessageType("video").Valid())
	req.False(MessageType("").Valid())
}
