// Package storetest holds the behaviour every storage backend must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"chat-relay/core"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

// Store is the union a backend under test must implement.
type Store interface {
	core.UserStore
	core.ConversationStore
	core.MessageStore
}

// Run exercises s against the shared storage contract. newStore must return a
// fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("DirectFindOrCreate", func(t *testing.T) { testDirect(t, newStore(t)) })
	t.Run("DirectConcurrent", func(t *testing.T) { testDirectConcurrent(t, newStore(t)) })
	t.Run("SeparatorInIDs", func(t *testing.T) { testSeparatorInIDs(t, newStore(t)) })
	t.Run("Group", func(t *testing.T) { testGroup(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("ReadReceipts", func(t *testing.T) { testReadReceipts(t, newStore(t)) })
}

func testUsers(t *testing.T, s Store) {
	req := require.New(t)
	ctx := context.Background()

	_, err := s.FindUser(ctx, "ghost")
	req.ErrorIs(err, core.ErrNotFound)

	req.NoError(s.UpsertUser(ctx, &core.User{ID: "alice", Name: "Alice"}))
	req.NoError(s.UpsertUser(ctx, &core.User{ID: "alice", Name: "Alice L."}))

	seen := time.Now().Truncate(time.Millisecond)
	req.NoError(s.SetLastSeen(ctx, "alice", seen))

	u, err := s.FindUser(ctx, "alice")
	req.NoError(err)
	req.Equal("Alice L.", u.Name)
	req.True(seen.Equal(u.LastSeen), "lastSeen %v != %v", u.LastSeen, seen)
	req.False(u.Online)
}

func testDirect(t *testing.T, s Store) {
	req := require.New(t)
	ctx := context.Background()

	c1, err := s.FindOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	req.False(c1.IsGroup)
	req.ElementsMatch([]string{"alice", "bob"}, c1.Participants)

	c2, err := s.FindOrCreateDirect(ctx, "bob", "alice")
	req.NoError(err)
	req.Equal(c1.ID, c2.ID)

	_, err = s.FindOrCreateDirect(ctx, "alice", "alice")
	req.ErrorIs(err, core.ErrInvalidConversation)

	got, err := s.GetConversation(ctx, c1.ID)
	req.NoError(err)
	req.Equal(c1.ID, got.ID)

	_, err = s.GetConversation(ctx, "missing")
	req.ErrorIs(err, core.ErrNotFound)

	ok, err := s.IsParticipant(ctx, c1.ID, "alice")
	req.NoError(err)
	req.True(ok)
	ok, err = s.IsParticipant(ctx, c1.ID, "carol")
	req.NoError(err)
	req.False(ok)
	ok, err = s.IsParticipant(ctx, "missing", "alice")
	req.NoError(err)
	req.False(ok)
}

func testDirectConcurrent(t *testing.T, s Store) {
	req := require.New(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := s.FindOrCreateDirect(ctx, a, b)
			errs[i] = err
			if err == nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		req.NoError(errs[i])
		req.Equal(ids[0], ids[i])
	}
	convs, err := s.FindConversationsForUser(ctx, "alice")
	req.NoError(err)
	req.Len(convs, 1)
}

// testSeparatorInIDs covers ids that contain the characters backends use to
// join keys. ("a:b","c") and ("a","b:c") are different pairs.
func testSeparatorInIDs(t *testing.T, s Store) {
	req := require.New(t)
	ctx := context.Background()

	d1, err := s.FindOrCreateDirect(ctx, "a:b", "c")
	req.NoError(err)
	d2, err := s.FindOrCreateDirect(ctx, "a", "b:c")
	req.NoError(err)
	req.NotEqual(d1.ID, d2.ID)
	req.ElementsMatch([]string{"a:b", "c"}, d1.Participants)
	req.ElementsMatch([]string{"a", "b:c"}, d2.Participants)

	again, err := s.FindOrCreateDirect(ctx, "c", "a:b")
	req.NoError(err)
	req.Equal(d1.ID, again.ID)

	g, err := s.CreateGroup(ctx, "colons", "a:b", []string{"c"})
	req.NoError(err)

	convs, err := s.FindConversationsForUser(ctx, "a")
	req.NoError(err)
	req.Equal([]string{d2.ID}, conversationIDs(convs))

	convs, err = s.FindConversationsForUser(ctx, "a:b")
	req.NoError(err)
	req.ElementsMatch([]string{d1.ID, g.ID}, conversationIDs(convs))

	ok, err := s.IsParticipant(ctx, d1.ID, "a")
	req.NoError(err)
	req.False(ok)
	ok, err = s.IsParticipant(ctx, g.ID, "a")
	req.NoError(err)
	req.False(ok)
}

func testGroup(t *testing.T, s Store) {
	req := require.New(t)
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, "team", "alice", []string{"bob", "carol", "bob"})
	req.NoError(err)
	req.True(g.IsGroup)
	req.Equal("team", g.Name)
	req.Equal("alice", g.AdminID)
	req.ElementsMatch([]string{"alice", "bob", "carol"}, g.Participants)

	_, err = s.CreateGroup(ctx, "", "alice", []string{"bob"})
	req.ErrorIs(err, core.ErrInvalidConversation)

	d, err := s.FindOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	convs, err := s.FindConversationsForUser(ctx, "alice")
	req.NoError(err)
	req.ElementsMatch([]string{g.ID, d.ID}, conversationIDs(convs))

	convs, err = s.FindConversationsForUser(ctx, "carol")
	req.NoError(err)
	req.Equal([]string{g.ID}, conversationIDs(convs))

	convs, err = s.FindConversationsForUser(ctx, "nobody")
	req.NoError(err)
	req.Empty(convs)
}

func testMessages(t *testing.T, s Store) {
	req := require.New(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	at := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	msg := newMessage(conv.ID, "alice", "hello", at)
	req.NoError(s.AppendMessage(ctx, msg))

	got, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal(msg.ID, got.ID)
	req.Equal(conv.ID, got.ConversationID)
	req.Equal("alice", got.SenderID)
	req.Equal("hello", got.Content)
	req.Equal(core.MessageTypeText, got.Type)
	req.True(at.Equal(got.CreatedAt))
	req.True(got.HasRead("alice"))
	req.Len(got.ReadBy, 1)

	updated, err := s.GetConversation(ctx, conv.ID)
	req.NoError(err)
	req.Equal(msg.ID, updated.LastMessageID)
	req.True(at.Equal(updated.LastActivity))

	_, err = s.GetMessage(ctx, "missing")
	req.ErrorIs(err, core.ErrNotFound)

	orphan := newMessage("missing", "alice", "lost", at)
	req.ErrorIs(s.AppendMessage(ctx, orphan), core.ErrNotFound)
	_, err = s.GetMessage(ctx, orphan.ID)
	req.ErrorIs(err, core.ErrNotFound)
}

func testReadReceipts(t *testing.T, s Store) {
	req := require.New(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	msg := newMessage(conv.ID, "alice", "hi", time.Now())
	req.NoError(s.AppendMessage(ctx, msg))

	added, err := s.AppendReadReceipt(ctx, msg.ID, "bob", time.Now())
	req.NoError(err)
	req.True(added)

	added, err = s.AppendReadReceipt(ctx, msg.ID, "bob", time.Now())
	req.NoError(err)
	req.False(added)

	added, err = s.AppendReadReceipt(ctx, msg.ID, "alice", time.Now())
	req.NoError(err)
	req.False(added)

	got, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Len(got.ReadBy, 2)

	_, err = s.AppendReadReceipt(ctx, "missing", "bob", time.Now())
	req.ErrorIs(err, core.ErrNotFound)
}

func newMessage(convID, sender, content string, at time.Time) *core.Message {
	return &core.Message{
		ID:             ulid.Make().String(),
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
		Type:           core.MessageTypeText,
		CreatedAt:      at,
		ReadBy:         []core.ReadReceipt{{UserID: sender, ReadAt: at}},
	}
}

func conversationIDs(convs []*core.Conversation) []string {
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	return ids
}
