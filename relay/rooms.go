package relay

import "sync"

// Audience selects which subscribers of a room receive a broadcast.
type Audience struct {
	exceptUser string
}

// Everyone addresses every subscriber.
func Everyone() Audience { return Audience{} }

// ExceptUser addresses every subscriber not owned by userID.
func ExceptUser(userID string) Audience { return Audience{exceptUser: userID} }

func (a Audience) includes(s *Session) bool {
	return a.exceptUser == "" || s.UserID() != a.exceptUser
}

// Rooms tracks which sessions are subscribed to which conversation.
type Rooms struct {
	mu     sync.RWMutex
	subs   map[string]map[*Session]struct{}
	joined map[*Session]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		subs:   make(map[string]map[*Session]struct{}),
		joined: make(map[*Session]map[string]struct{}),
	}
}

// Join subscribes s to conversationID. It reports false if s was already
// subscribed or is closed.
func (r *Rooms) Join(conversationID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed() {
		return false
	}
	members, ok := r.subs[conversationID]
	if !ok {
		members = make(map[*Session]struct{})
		r.subs[conversationID] = members
	}
	if _, dup := members[s]; dup {
		return false
	}
	members[s] = struct{}{}

	rooms, ok := r.joined[s]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[s] = rooms
	}
	rooms[conversationID] = struct{}{}
	return true
}

// Leave unsubscribes s from conversationID; absent subscriptions are ignored.
func (r *Rooms) Leave(conversationID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conversationID, s)
}

func (r *Rooms) leaveLocked(conversationID string, s *Session) bool {
	members, ok := r.subs[conversationID]
	if !ok {
		return false
	}
	if _, present := members[s]; !present {
		return false
	}
	delete(members, s)
	if len(members) == 0 {
		delete(r.subs, conversationID)
	}
	if rooms, ok := r.joined[s]; ok {
		delete(rooms, conversationID)
		if len(rooms) == 0 {
			delete(r.joined, s)
		}
	}
	return true
}

// LeaveAll removes s from every room it joined and returns those rooms.
func (r *Rooms) LeaveAll(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[s]
	left := make([]string, 0, len(rooms))
	for id := range rooms {
		left = append(left, id)
	}
	for _, id := range left {
		r.leaveLocked(id, s)
	}
	return left
}

func (r *Rooms) Subscribers(conversationID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.subs[conversationID]))
	for s := range r.subs[conversationID] {
		out = append(out, s)
	}
	return out
}

func (r *Rooms) IsSubscribed(conversationID string, s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[conversationID][s]
	return ok
}

// Counts returns the number of subscribers of every active room.
func (r *Rooms) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.subs))
	for id, members := range r.subs {
		out[id] = len(members)
	}
	return out
}

// Broadcast queues a frame for every subscriber in audience and returns how
// many sessions accepted it. The subscriber set cannot change while frames
// are being queued.
func (r *Rooms) Broadcast(conversationID string, audience Audience, event string, payload any) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for s := range r.subs[conversationID] {
		if !audience.includes(s) {
			continue
		}
		if s.enqueue(event, payload) {
			n++
		}
	}
	return n
}
