package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-relay/core"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MarkRead records that s's user read messageID and tells the rest of the
// room. Unknown messages, mismatched conversations and non-participants are
// dropped without an error frame; repeated reads broadcast nothing.
func (h *Hub) MarkRead(ctx context.Context, s *Session, messageID, conversationID string) error {
	ctx, span := h.tracer.Start(ctx, "relay.markRead", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("message.id", messageID),
	))
	defer span.End()

	log := s.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"message_id":      messageID,
	})

	if messageID == "" || conversationID == "" {
		return fmt.Errorf("%w: messageId and conversationId are required", ErrValidation)
	}

	msg, err := h.store.GetMessage(ctx, messageID)
	if errors.Is(err, core.ErrNotFound) {
		log.Debug("markRead for unknown message dropped")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load message")
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if msg.ConversationID != conversationID {
		log.Warn("markRead conversation mismatch dropped")
		return nil
	}

	ok, err := h.store.IsParticipant(ctx, conversationID, s.UserID())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		log.Warn("markRead from non-participant dropped")
		return nil
	}

	readAt := time.Now()
	added, err := h.store.AppendReadReceipt(ctx, messageID, s.UserID(), readAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append receipt")
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !added {
		return nil
	}

	h.rooms.Broadcast(conversationID, ExceptUser(s.UserID()), EventMessageRead, MessageReadEvent{
		MessageID:      messageID,
		ConversationID: conversationID,
		UserID:         s.UserID(),
		ReadAt:         readAt,
	})
	return nil
}
