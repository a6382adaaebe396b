package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-relay/core"

	"github.com/sirupsen/logrus"
)

// Presence is the registry of live sessions per user. Online and offline
// events are edge-triggered: they fire on the first session of a user and
// after the last one is gone.
type Presence struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
	lastSeen map[string]time.Time

	users core.UserStore
	now   func() time.Time
}

func NewPresence(users core.UserStore) *Presence {
	return &Presence{
		sessions: make(map[string]map[string]*Session),
		lastSeen: make(map[string]time.Time),
		users:    users,
		now:      time.Now,
	}
}

// Register adds s and reports whether its user just came online.
func (p *Presence) Register(s *Session) bool {
	uid := s.UserID()

	p.mu.Lock()
	if s.closed() {
		p.mu.Unlock()
		return false
	}
	set, ok := p.sessions[uid]
	if !ok {
		set = make(map[string]*Session)
		p.sessions[uid] = set
	}
	if _, dup := set[s.ID()]; dup {
		p.mu.Unlock()
		return false
	}
	set[s.ID()] = s
	first := len(set) == 1
	var at time.Time
	if first {
		at = p.now()
		p.lastSeen[uid] = at
		p.notifyOthersLocked(uid, EventUserOnline, PresenceEvent{UserID: uid, LastSeen: at})
	}
	p.mu.Unlock()

	if first {
		logrus.WithField("user_id", uid).Info("User online")
		p.persistLastSeen(uid, at)
	}
	return first
}

// Unregister removes s and reports whether its user just went offline.
func (p *Presence) Unregister(s *Session) bool {
	uid := s.UserID()

	p.mu.Lock()
	set, ok := p.sessions[uid]
	if !ok {
		p.mu.Unlock()
		return false
	}
	if _, present := set[s.ID()]; !present {
		p.mu.Unlock()
		return false
	}
	delete(set, s.ID())
	last := len(set) == 0
	var at time.Time
	if last {
		delete(p.sessions, uid)
		at = p.now()
		p.lastSeen[uid] = at
		p.notifyOthersLocked(uid, EventUserOffline, PresenceEvent{UserID: uid, LastSeen: at})
	}
	p.mu.Unlock()

	if last {
		logrus.WithField("user_id", uid).Info("User offline")
		p.persistLastSeen(uid, at)
	}
	return last
}

// notifyOthersLocked must be called with p.mu held.
func (p *Presence) notifyOthersLocked(uid, event string, payload PresenceEvent) {
	for other, set := range p.sessions {
		if other == uid {
			continue
		}
		for _, s := range set {
			s.enqueue(event, payload)
		}
	}
}

func (p *Presence) persistLastSeen(uid string, at time.Time) {
	if p.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.users.SetLastSeen(ctx, uid, at); err != nil {
		logrus.WithError(err).WithField("user_id", uid).Warn("Failed to persist last seen")
	}
}

// Snapshot lists the users currently online, sorted by id.
func (p *Presence) Snapshot() []core.User {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]core.User, 0, len(p.sessions))
	for uid, set := range p.sessions {
		user := core.User{ID: uid, Online: true, LastSeen: p.lastSeen[uid]}
		for _, s := range set {
			user.Name = s.user.Name
			break
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions[userID]) > 0
}

// LastSeen returns the time of the user's latest online/offline transition
// observed by this process.
func (p *Presence) LastSeen(userID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	at, ok := p.lastSeen[userID]
	return at, ok
}

// Sessions returns the live sessions of userID.
func (p *Presence) Sessions(userID string) []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Session, 0, len(p.sessions[userID]))
	for _, s := range p.sessions[userID] {
		out = append(out, s)
	}
	return out
}

// SessionCount is the number of registered sessions across all users.
func (p *Presence) SessionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, set := range p.sessions {
		n += len(set)
	}
	return n
}
