// Package relay routes chat traffic between authenticated connections:
// presence, room membership, messages, typing indicators and read receipts.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"chat-relay/auth"
	"chat-relay/core"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ContentFilter rewrites message content before it is stored.
type ContentFilter interface {
	Mask(content string) string
}

type Options struct {
	AuthTimeout      time.Duration
	TypingTimeout    time.Duration
	QueueSize        int
	MaxContentLength int
	Filter           ContentFilter
}

func (o Options) withDefaults() Options {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = 5000
	}
	return o
}

type handlerFunc func(ctx context.Context, s *Session, data json.RawMessage) error

// Hub owns every registry of the relay. It is created once per process and
// torn down with Shutdown.
type Hub struct {
	store     Store
	validator auth.Validator
	opts      Options
	tracer    trace.Tracer

	presence  *Presence
	rooms     *Rooms
	typing    *Typing
	convLocks *keyedMutex
	handlers  map[string]handlerFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

func NewHub(store Store, validator auth.Validator, opts Options) *Hub {
	opts = opts.withDefaults()
	rooms := NewRooms()
	h := &Hub{
		store:     store,
		validator: validator,
		opts:      opts,
		tracer:    otel.Tracer("chat-relay/relay"),
		presence:  NewPresence(store),
		rooms:     rooms,
		typing:    NewTyping(rooms, opts.TypingTimeout),
		convLocks: newKeyedMutex(),
		sessions:  make(map[string]*Session),
	}
	h.handlers = map[string]handlerFunc{
		EventAuthenticate:   h.handleAuthenticate,
		EventJoinRoom:       h.handleJoinRoom,
		EventLeaveRoom:      h.handleLeaveRoom,
		EventSendMessage:    h.handleSendMessage,
		EventTyping:         h.handleTyping,
		EventMarkRead:       h.handleMarkRead,
		EventGetOnlineUsers: h.handleGetOnlineUsers,
	}
	return h
}

func (h *Hub) Presence() *Presence { return h.presence }
func (h *Hub) Rooms() *Rooms       { return h.rooms }
func (h *Hub) Typing() *Typing     { return h.typing }

// Serve runs one connection from authentication to close. It blocks until
// the connection is gone and always closes t.
func (h *Hub) Serve(ctx context.Context, t Transport) error {
	log := logrus.WithField("conn_id", t.ID())

	user, err := h.authenticate(ctx, t)
	if err != nil {
		log.WithError(err).Info("Connection rejected")
		_ = t.Send(EventError, errorFrame(err))
		_ = t.Close()
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := newSession(uuid.NewString(), *user, t, h.opts.QueueSize, cancel)

	if err := h.track(s); err != nil {
		_ = t.Send(EventError, errorFrame(err))
		_ = t.Close()
		return err
	}
	defer h.wg.Done()

	closeFn := func(reason string) { h.closeSession(s, reason) }
	go s.writeLoop(closeFn)
	go s.watchHealth(closeFn)

	s.setState(StateAuthenticated)
	h.presence.Register(s)
	h.autoJoin(sctx, s)
	s.enqueue(EventOnlineUsers, h.presence.Snapshot())
	s.setState(StateActive)
	s.log.Info("Session active")

	return h.readLoop(sctx, s, t)
}

func (h *Hub) authenticate(ctx context.Context, t Transport) (*core.User, error) {
	ctx, span := h.tracer.Start(ctx, "relay.connect")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.opts.AuthTimeout)
	defer cancel()

	credential := t.Handshake()
	for credential == "" {
		in, err := t.Receive(ctx)
		if err != nil {
			span.SetStatus(codes.Error, "no credential")
			return nil, fmt.Errorf("%w: no credential received: %v", ErrUnauthenticated, err)
		}
		if in.Event != EventAuthenticate {
			_ = t.Send(EventError, errorFrame(fmt.Errorf("%w: authenticate first", ErrUnauthenticated)))
			continue
		}
		var req AuthenticateRequest
		if err := json.Unmarshal(in.Data, &req); err != nil || strings.TrimSpace(req.Token) == "" {
			span.SetStatus(codes.Error, "malformed authenticate frame")
			return nil, fmt.Errorf("%w: malformed authenticate frame", ErrUnauthenticated)
		}
		credential = req.Token
	}

	user, err := h.validator.Validate(ctx, credential)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid credential")
		if !errors.Is(err, ErrUnauthenticated) {
			err = fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID))
	return user, nil
}

func (h *Hub) track(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return ErrShuttingDown
	}
	h.sessions[s.ID()] = s
	h.wg.Add(1)
	return nil
}

func (h *Hub) autoJoin(ctx context.Context, s *Session) {
	convs, err := h.store.FindConversationsForUser(ctx, s.UserID())
	if err != nil {
		s.log.WithError(err).Error("Failed to list conversations for auto-join")
		s.sendError(fmt.Errorf("%w: %v", ErrStorage, err))
		return
	}
	for _, c := range convs {
		h.rooms.Join(c.ID, s)
	}
	s.log.WithField("rooms", len(convs)).Debug("Auto-joined conversations")
}

func (h *Hub) readLoop(ctx context.Context, s *Session, t Transport) error {
	for {
		in, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				h.closeSession(s, "disconnected")
				return nil
			}
			h.closeSession(s, "receive failed")
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		h.dispatch(ctx, s, in)
	}
}

func (h *Hub) dispatch(ctx context.Context, s *Session, in Inbound) {
	handler, ok := h.handlers[in.Event]
	if !ok {
		s.sendError(fmt.Errorf("%w: unknown event %q", ErrValidation, in.Event))
		return
	}
	if err := handler(ctx, s, in.Data); err != nil {
		s.log.WithError(err).WithField("event", in.Event).Debug("Frame rejected")
		s.sendError(err)
	}
}

// closeSession tears s down exactly once: typing state, rooms, presence,
// then the transport.
func (h *Hub) closeSession(s *Session, reason string) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		h.typing.DropSession(s)
		h.rooms.LeaveAll(s)
		h.presence.Unregister(s)
		close(s.done)
		s.cancel()
		if err := s.conn.Close(); err != nil {
			s.log.WithError(err).Debug("Transport close failed")
		}

		h.mu.Lock()
		delete(h.sessions, s.ID())
		h.mu.Unlock()

		s.log.WithField("reason", reason).Info("Session closed")
	})
}

// AttachParticipants subscribes every live session of conv's participants to
// it, so a freshly created conversation is live without reconnecting.
func (h *Hub) AttachParticipants(conv *core.Conversation) int {
	n := 0
	for _, uid := range conv.Participants {
		for _, s := range h.presence.Sessions(uid) {
			if h.rooms.Join(conv.ID, s) {
				n++
			}
		}
	}
	return n
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// RoomCount returns the number of conversations with a live subscriber.
func (h *Hub) RoomCount() int { return len(h.rooms.Counts()) }

// Shutdown closes every session and waits for their Serve calls to return.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		h.closeSession(s, "server shutdown")
	}
	h.typing.Stop()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logrus.WithField("sessions", len(live)).Info("Relay hub stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleAuthenticate(ctx context.Context, s *Session, _ json.RawMessage) error {
	s.log.Debug("Ignoring authenticate frame on an authenticated session")
	return nil
}

func (h *Hub) handleJoinRoom(ctx context.Context, s *Session, data json.RawMessage) error {
	id, err := decodeRoom(data)
	if err != nil {
		return err
	}
	return h.JoinRoom(ctx, s, id)
}

func (h *Hub) handleLeaveRoom(ctx context.Context, s *Session, data json.RawMessage) error {
	id, err := decodeRoom(data)
	if err != nil {
		return err
	}
	h.LeaveRoom(s, id)
	return nil
}

func (h *Hub) handleSendMessage(ctx context.Context, s *Session, data json.RawMessage) error {
	var req SendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, err := h.SendMessage(ctx, s, req)
	return err
}

func (h *Hub) handleTyping(ctx context.Context, s *Session, data json.RawMessage) error {
	var req TypingRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	h.typing.Set(s, req.ConversationID, req.IsTyping)
	return nil
}

func (h *Hub) handleMarkRead(ctx context.Context, s *Session, data json.RawMessage) error {
	var req MarkReadRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return h.MarkRead(ctx, s, req.MessageID, req.ConversationID)
}

func (h *Hub) handleGetOnlineUsers(ctx context.Context, s *Session, _ json.RawMessage) error {
	s.enqueue(EventOnlineUsers, h.presence.Snapshot())
	return nil
}

// JoinRoom subscribes s to a conversation its user participates in.
func (h *Hub) JoinRoom(ctx context.Context, s *Session, conversationID string) error {
	ok, err := h.store.IsParticipant(ctx, conversationID, s.UserID())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	h.rooms.Join(conversationID, s)
	return nil
}

func (h *Hub) LeaveRoom(s *Session, conversationID string) {
	h.rooms.Leave(conversationID, s)
}
