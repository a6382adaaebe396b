package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-relay/core"
	"chat-relay/mocks"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newMockHub(t *testing.T) (*Hub, *mocks.MockStore) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	return NewHub(store, tokenValidator{store: store}, Options{}), store
}

func TestSendMessage_StorageErrorAbortsBroadcast(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub, store := newMockHub(t)

	sender := newTestSession("a", "alice", 8)
	peer := newTestSession("b", "bob", 8)
	hub.Rooms().Join("c1", sender)
	hub.Rooms().Join("c1", peer)

	store.EXPECT().IsParticipant(gomock.Any(), "c1", "alice").Return(true, nil).Times(2)
	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(errors.New("disk full")).Times(2)

	msg, err := hub.SendMessage(ctx, sender, SendMessageRequest{ConversationID: "c1", Content: "hello"})
	req.ErrorIs(err, ErrStorage)
	req.Nil(msg)
	req.Empty(drain(peer))

	hub.dispatch(ctx, sender, Inbound{Event: EventSendMessage, Data: []byte(`{"conversationId":"c1","content":"hello"}`)})
	frames := drain(sender)
	req.Len(frames, 1)
	req.Equal(EventError, frames[0].event)
	req.Equal(CodeStorage, frames[0].payload.(ErrorEvent).Code)
	req.Empty(drain(peer))
}

func TestSendMessage_PersistsBeforeBroadcast(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub, store := newMockHub(t)

	sender := newTestSession("a", "alice", 8)
	hub.Rooms().Join("c1", sender)

	var persisted *core.Message
	store.EXPECT().IsParticipant(gomock.Any(), "c1", "alice").Return(true, nil)
	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m *core.Message) error {
		req.Empty(drain(sender), "nothing is broadcast before the write")
		persisted = m.Clone()
		return nil
	})

	msg, err := hub.SendMessage(ctx, sender, SendMessageRequest{ConversationID: "c1", Content: "hello"})
	req.NoError(err)
	req.Equal(persisted.ID, msg.ID)
	req.Equal(core.MessageTypeText, persisted.Type)
	req.Equal([]core.ReadReceipt{{UserID: "alice", ReadAt: persisted.CreatedAt}}, persisted.ReadBy)

	frames := eventsOf(drain(sender), EventNewMessage)
	req.Len(frames, 1)
}

func TestSendMessage_ParticipantLookupFailure(t *testing.T) {
	hub, store := newMockHub(t)
	s := newTestSession("a", "alice", 8)

	store.EXPECT().IsParticipant(gomock.Any(), "c1", "alice").Return(false, errors.New("timeout"))

	_, err := hub.SendMessage(context.Background(), s, SendMessageRequest{ConversationID: "c1", Content: "x"})
	require.ErrorIs(t, err, ErrStorage)
}

func TestMarkRead_StorageErrors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub, store := newMockHub(t)

	reader := newTestSession("b", "bob", 8)
	author := newTestSession("a", "alice", 8)
	hub.Rooms().Join("c1", reader)
	hub.Rooms().Join("c1", author)

	store.EXPECT().GetMessage(gomock.Any(), "m1").Return(nil, errors.New("io"))
	req.ErrorIs(hub.MarkRead(ctx, reader, "m1", "c1"), ErrStorage)

	store.EXPECT().GetMessage(gomock.Any(), "m2").Return(&core.Message{ID: "m2", ConversationID: "c1"}, nil)
	store.EXPECT().IsParticipant(gomock.Any(), "c1", "bob").Return(true, nil)
	store.EXPECT().AppendReadReceipt(gomock.Any(), "m2", "bob", gomock.Any()).Return(false, errors.New("io"))
	req.ErrorIs(hub.MarkRead(ctx, reader, "m2", "c1"), ErrStorage)

	req.Empty(drain(author))
}

func TestMarkRead_BroadcastsOnlyWhenAdded(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub, store := newMockHub(t)

	reader := newTestSession("b", "bob", 8)
	author := newTestSession("a", "alice", 8)
	hub.Rooms().Join("c1", reader)
	hub.Rooms().Join("c1", author)

	msg := &core.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}
	store.EXPECT().GetMessage(gomock.Any(), "m1").Return(msg, nil).Times(2)
	store.EXPECT().IsParticipant(gomock.Any(), "c1", "bob").Return(true, nil).Times(2)
	gomock.InOrder(
		store.EXPECT().AppendReadReceipt(gomock.Any(), "m1", "bob", gomock.Any()).Return(true, nil),
		store.EXPECT().AppendReadReceipt(gomock.Any(), "m1", "bob", gomock.Any()).Return(false, nil),
	)

	req.NoError(hub.MarkRead(ctx, reader, "m1", "c1"))
	req.NoError(hub.MarkRead(ctx, reader, "m1", "c1"))

	reads := eventsOf(drain(author), EventMessageRead)
	req.Len(reads, 1)
	ev := reads[0].payload.(MessageReadEvent)
	req.Equal("bob", ev.UserID)
	req.WithinDuration(time.Now(), ev.ReadAt, time.Minute)
	req.Empty(drain(reader))
}

func TestAutoJoin_StorageErrorReported(t *testing.T) {
	req := require.New(t)
	hub, store := newMockHub(t)
	s := newTestSession("a", "alice", 8)

	store.EXPECT().FindConversationsForUser(gomock.Any(), "alice").Return(nil, errors.New("down"))
	hub.autoJoin(context.Background(), s)

	frames := drain(s)
	req.Len(frames, 1)
	req.Equal(CodeStorage, frames[0].payload.(ErrorEvent).Code)
	req.Empty(hub.Rooms().Counts())
}
