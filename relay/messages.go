package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat-relay/core"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var validate = validator.New()

// validateContent checks the content and type of a send request and returns
// the type to store.
func (h *Hub) validateContent(req SendMessageRequest) (core.MessageType, error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if err := validate.Var(req.Content, fmt.Sprintf("max=%d", h.opts.MaxContentLength)); err != nil {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrValidation, h.opts.MaxContentLength)
	}
	msgType := req.Type
	if msgType == "" {
		msgType = core.MessageTypeText
	}
	if !msgType.Valid() {
		return "", fmt.Errorf("%w: unknown message type %q", ErrValidation, req.Type)
	}
	return msgType, nil
}

// SendMessage stores a message from s and broadcasts it to the room,
// including the sender's own sessions. Messages of one conversation are
// stored and broadcast in the same order.
func (h *Hub) SendMessage(ctx context.Context, s *Session, req SendMessageRequest) (*core.Message, error) {
	ctx, span := h.tracer.Start(ctx, "relay.sendMessage", trace.WithAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("user.id", s.UserID()),
	))
	defer span.End()

	msg, err := h.sendMessage(ctx, s, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("message.id", msg.ID))
	return msg, nil
}

func (h *Hub) sendMessage(ctx context.Context, s *Session, req SendMessageRequest) (*core.Message, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrValidation)
	}
	msgType, err := h.validateContent(req)
	if err != nil {
		return nil, err
	}
	content := req.Content
	if h.opts.Filter != nil {
		content = h.opts.Filter.Mask(content)
	}

	ok, err := h.store.IsParticipant(ctx, req.ConversationID, s.UserID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, req.ConversationID)
	}

	unlock := h.convLocks.Lock(req.ConversationID)
	defer unlock()

	now := time.Now()
	msg := &core.Message{
		ID:             ulid.Make().String(),
		ConversationID: req.ConversationID,
		SenderID:       s.UserID(),
		Content:        content,
		Type:           msgType,
		CreatedAt:      now,
		ReadBy:         []core.ReadReceipt{{UserID: s.UserID(), ReadAt: now}},
	}
	if err := h.store.AppendMessage(ctx, msg); err != nil {
		s.log.WithError(err).WithField("conversation_id", req.ConversationID).Error("Failed to persist message")
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	sender := s.User()
	msg.Sender = &sender
	n := h.rooms.Broadcast(req.ConversationID, Everyone(), EventNewMessage, msg)

	s.log.WithFields(logrus.Fields{
		"conversation_id": req.ConversationID,
		"message_id":      msg.ID,
		"recipients":      n,
	}).Debug("Message relayed")
	return msg.Clone(), nil
}
