package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"chat-relay/core"
	"chat-relay/stores/storetest"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSqliteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestStore(t)
	})
}

func TestSqliteStore_SurvivesReopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")

	s, err := NewStore(path)
	req.NoError(err)
	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	req.NoError(s.Close())

	s, err = NewStore(path)
	req.NoError(err)
	defer s.Close()

	again, err := s.FindOrCreateDirect(ctx, "bob", "alice")
	req.NoError(err)
	req.Equal(conv.ID, again.ID)

	ok, err := s.IsParticipant(ctx, conv.ID, "bob")
	req.NoError(err)
	req.True(ok)
}

func TestSqliteStore_UpsertKeepsNameWhenEmpty(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	req.NoError(s.UpsertUser(ctx, &core.User{ID: "alice", Name: "Alice"}))
	req.NoError(s.UpsertUser(ctx, &core.User{ID: "alice"}))

	u, err := s.FindUser(ctx, "alice")
	req.NoError(err)
	req.Equal("Alice", u.Name)
	req.True(u.LastSeen.IsZero())

	req.ErrorIs(s.SetLastSeen(ctx, "ghost", u.LastSeen), core.ErrNotFound)
}
