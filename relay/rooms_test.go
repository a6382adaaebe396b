package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRooms_JoinLeave(t *testing.T) {
	req := require.New(t)
	r := NewRooms()
	s := newTestSession("s1", "alice", 4)

	req.True(r.Join("c1", s))
	req.False(r.Join("c1", s))
	req.True(r.IsSubscribed("c1", s))
	req.Len(r.Subscribers("c1"), 1)

	req.True(r.Leave("c1", s))
	req.False(r.Leave("c1", s))
	req.False(r.Leave("nope", s))
	req.False(r.IsSubscribed("c1", s))
	req.Empty(r.Counts())
}

func TestRooms_LeaveAll(t *testing.T) {
	req := require.New(t)
	r := NewRooms()
	a := newTestSession("a", "alice", 4)
	b := newTestSession("b", "bob", 4)

	r.Join("c1", a)
	r.Join("c2", a)
	r.Join("c2", b)

	req.ElementsMatch([]string{"c1", "c2"}, r.LeaveAll(a))
	req.Empty(r.LeaveAll(a))
	req.Equal(map[string]int{"c2": 1}, r.Counts())
	req.True(r.IsSubscribed("c2", b))
}

func TestRooms_BroadcastAudience(t *testing.T) {
	req := require.New(t)
	r := NewRooms()
	a1 := newTestSession("a1", "alice", 4)
	a2 := newTestSession("a2", "alice", 4)
	b := newTestSession("b", "bob", 4)
	outsider := newTestSession("c", "carol", 4)

	for _, s := range []*Session{a1, a2, b} {
		r.Join("c1", s)
	}

	req.Equal(3, r.Broadcast("c1", Everyone(), EventNewMessage, "m1"))
	req.Equal(1, r.Broadcast("c1", ExceptUser("alice"), EventUserTyping, "t"))
	req.Equal(0, r.Broadcast("empty", Everyone(), EventNewMessage, "x"))

	req.Len(drain(a1), 1)
	req.Len(drain(a2), 1)
	req.Len(drain(b), 2)
	req.Empty(drain(outsider))
}

func TestRooms_ClosedSessionCannotJoin(t *testing.T) {
	r := NewRooms()
	s := newTestSession("s1", "alice", 4)
	s.state.Store(int32(StateClosed))

	require.False(t, r.Join("c1", s))
	require.Empty(t, r.Counts())
}

func TestRooms_OverflowMarksUnhealthy(t *testing.T) {
	req := require.New(t)
	r := NewRooms()
	s := newTestSession("s1", "alice", 1)
	r.Join("c1", s)

	req.Equal(1, r.Broadcast("c1", Everyone(), EventNewMessage, 1))
	req.Equal(0, r.Broadcast("c1", Everyone(), EventNewMessage, 2))

	select {
	case <-s.unhealthy:
	default:
		t.Fatal("session should be marked unhealthy after overflow")
	}
}
