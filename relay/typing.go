package relay

import (
	"sync"
	"time"
)

type typingKey struct {
	conversationID string
	userID         string
}

// typingEntry owns the expiry timer of one (conversation, user) pair. gen
// changes on every reset so a timer that fired late can tell it is stale.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
	owner *Session
}

// Typing tracks who is typing where and expires the state on its own.
type Typing struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry
	gen     uint64

	rooms   *Rooms
	timeout time.Duration
}

func NewTyping(rooms *Rooms, timeout time.Duration) *Typing {
	return &Typing{
		entries: make(map[typingKey]*typingEntry),
		rooms:   rooms,
		timeout: timeout,
	}
}

// Set records the typing state of s's user in conversationID. It reports
// whether a userTyping frame was broadcast; repeated true only pushes the
// deadline out. Sessions not subscribed to the room are ignored.
func (t *Typing) Set(s *Session, conversationID string, isTyping bool) bool {
	if !t.rooms.IsSubscribed(conversationID, s) {
		return false
	}
	key := typingKey{conversationID: conversationID, userID: s.UserID()}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Closed is set before DropSession takes t.mu, so checking it here means
	// no entry can be created after the session's entries were dropped.
	if s.closed() {
		return false
	}

	e, active := t.entries[key]
	if !isTyping {
		if !active {
			return false
		}
		t.clearLocked(key, e)
		return true
	}

	if active {
		e.timer.Stop()
		e.owner = s
		e.gen = t.arm(key, e)
		return false
	}

	e = &typingEntry{owner: s}
	e.gen = t.arm(key, e)
	t.entries[key] = e
	t.broadcast(key, true)
	return true
}

// arm starts a fresh expiry timer for e and returns its generation. Must be
// called with t.mu held.
func (t *Typing) arm(key typingKey, e *typingEntry) uint64 {
	t.gen++
	gen := t.gen
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(key, gen) })
	return gen
}

func (t *Typing) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		return
	}
	t.clearLocked(key, e)
}

func (t *Typing) clearLocked(key typingKey, e *typingEntry) {
	e.timer.Stop()
	delete(t.entries, key)
	t.broadcast(key, false)
}

func (t *Typing) broadcast(key typingKey, isTyping bool) {
	t.rooms.Broadcast(key.conversationID, ExceptUser(key.userID), EventUserTyping, UserTypingEvent{
		ConversationID: key.conversationID,
		UserID:         key.userID,
		IsTyping:       isTyping,
	})
}

// DropSession settles every entry owned by s to not-typing.
func (t *Typing) DropSession(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		if e.owner == s {
			t.clearLocked(key, e)
		}
	}
}

// IsTyping reports whether userID is currently typing in conversationID.
func (t *Typing) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{conversationID: conversationID, userID: userID}]
	return ok
}

// Stop cancels every timer without broadcasting.
func (t *Typing) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}
