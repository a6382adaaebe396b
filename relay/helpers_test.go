package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"chat-relay/core"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type sentFrame struct {
	event   string
	payload any
}

// fakeTransport is an in-memory Transport. Frames written by the hub are
// recorded; frames pushed with deliver are returned by Receive.
type fakeTransport struct {
	id        string
	handshake string
	in        chan Inbound

	mu      sync.Mutex
	frames  []sentFrame
	sendErr error
	block   chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(id, handshake string) *fakeTransport {
	return &fakeTransport{
		id:        id,
		handshake: handshake,
		in:        make(chan Inbound, 16),
		closed:    make(chan struct{}),
	}
}

func (f *fakeTransport) ID() string        { return f.id }
func (f *fakeTransport) Handshake() string { return f.handshake }

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-f.closed:
			return io.ErrClosedPipe
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, sentFrame{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (Inbound, error) {
	select {
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	case <-f.closed:
		return Inbound{}, io.EOF
	case in := <-f.in:
		return in, nil
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) deliver(t *testing.T, event string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	select {
	case f.in <- Inbound{Event: event, Data: raw}:
	case <-time.After(waitTimeout):
		t.Fatalf("deliver %s: transport %s not reading", event, f.id)
	}
}

func (f *fakeTransport) framesOf(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, fr := range f.frames {
		if fr.event == event {
			out = append(out, fr.payload)
		}
	}
	return out
}

func (f *fakeTransport) count(event string) int {
	return len(f.framesOf(event))
}

// waitFor blocks until at least n frames of event were written and returns
// the nth.
func (f *fakeTransport) waitFor(t *testing.T, event string, n int) any {
	t.Helper()
	require.Eventually(t, func() bool { return f.count(event) >= n },
		waitTimeout, 5*time.Millisecond, "transport %s: waiting for %d %q frames", f.id, n, event)
	return f.framesOf(event)[n-1]
}

// tokenValidator accepts a token equal to a known user id.
type tokenValidator struct {
	store core.UserStore
}

func (v tokenValidator) Validate(ctx context.Context, credential string) (*core.User, error) {
	u, err := v.store.FindUser(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return u, nil
}

// connect serves a new transport for userID and waits until the session is active.
func connect(t *testing.T, h *Hub, userID string) (*fakeTransport, *Session) {
	t.Helper()
	ft := newFakeTransport(fmt.Sprintf("%s-%d", userID, time.Now().UnixNano()), userID)
	errc := make(chan error, 1)
	go func() { errc <- h.Serve(context.Background(), ft) }()
	t.Cleanup(func() { _ = ft.Close() })

	ft.waitFor(t, EventOnlineUsers, 1)
	var session *Session
	require.Eventually(t, func() bool {
		for _, s := range h.Presence().Sessions(userID) {
			if s.conn == ft && s.State() == StateActive {
				session = s
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond)
	return ft, session
}

// newTestSession builds a session without a writer; frames stay queued in
// s.out for inspection.
func newTestSession(id, userID string, queue int) *Session {
	return newSession(id, core.User{ID: userID, Name: userID}, newFakeTransport(id, userID), queue, func() {})
}

func drain(s *Session) []outbound {
	var out []outbound
	for {
		select {
		case f := <-s.out:
			out = append(out, f)
		default:
			return out
		}
	}
}

func eventsOf(frames []outbound, event string) []outbound {
	var out []outbound
	for _, f := range frames {
		if f.event == event {
			out = append(out, f)
		}
	}
	return out
}
