package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chat-relay/core"
	"chat-relay/middleware"
	"chat-relay/stores/memory"

	"github.com/stretchr/testify/require"
)

type fakeAttacher struct {
	attached []string
}

func (f *fakeAttacher) AttachParticipants(conv *core.Conversation) int {
	f.attached = append(f.attached, conv.ID)
	return len(conv.Participants)
}

func newStore(t *testing.T) Store {
	t.Helper()
	store := memory.NewStore()
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, store.UpsertUser(context.Background(), &core.User{ID: id, Name: id}))
	}
	return store
}

func request(t *testing.T, h http.HandlerFunc, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	if userID != "" {
		ctx := context.WithValue(req.Context(), middleware.UserContextKey, &core.User{ID: userID})
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleCreateDirect(t *testing.T) {
	store := newStore(t)
	hub := &fakeAttacher{}
	h := HandleCreateDirect(store, hub)

	rec := request(t, h, "alice", CreateDirectRequest{PeerID: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var first core.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.False(t, first.IsGroup)
	require.ElementsMatch(t, []string{"alice", "bob"}, first.Participants)

	// the same pair from the other side finds the existing conversation
	rec = request(t, h, "bob", CreateDirectRequest{PeerID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var second core.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, []string{first.ID, first.ID}, hub.attached)
}

func TestHandleCreateDirect_Errors(t *testing.T) {
	store := newStore(t)
	h := HandleCreateDirect(store, &fakeAttacher{})

	tests := []struct {
		name   string
		user   string
		body   any
		status int
	}{
		{"no user", "", CreateDirectRequest{PeerID: "bob"}, http.StatusUnauthorized},
		{"malformed body", "alice", "{", http.StatusBadRequest},
		{"missing peer", "alice", CreateDirectRequest{}, http.StatusBadRequest},
		{"self", "alice", CreateDirectRequest{PeerID: "alice"}, http.StatusBadRequest},
		{"unknown peer", "alice", CreateDirectRequest{PeerID: "mallory"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := request(t, h, tt.user, tt.body)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleCreateGroup(t *testing.T) {
	store := newStore(t)
	hub := &fakeAttacher{}
	h := HandleCreateGroup(store, hub)

	rec := request(t, h, "alice", CreateGroupRequest{Name: "team", Participants: []string{"bob", "carol", "bob", "alice"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv core.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.True(t, conv.IsGroup)
	require.Equal(t, "team", conv.Name)
	require.Equal(t, "alice", conv.AdminID)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, conv.Participants)
	require.Equal(t, []string{conv.ID}, hub.attached)

	rec = request(t, h, "alice", CreateGroupRequest{Name: "solo", Participants: []string{"alice"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(t, h, "alice", CreateGroupRequest{Participants: []string{"bob"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(t, h, "alice", CreateGroupRequest{Name: "ghosts", Participants: []string{"bob", "mallory"}})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListConversations(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, err := store.FindOrCreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = store.CreateGroup(ctx, "team", "bob", []string{"carol"})
	require.NoError(t, err)

	rec := request(t, HandleListConversations(store), "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var convs []core.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)

	rec = request(t, HandleListConversations(store), "carol", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Len(t, convs, 1)
	require.Equal(t, "team", convs[0].Name)
}
