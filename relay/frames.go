package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chat-relay/core"
)

// Inbound frame names.
const (
	EventAuthenticate   = "authenticate"
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventSendMessage    = "sendMessage"
	EventTyping         = "typing"
	EventMarkRead       = "markRead"
	EventGetOnlineUsers = "getOnlineUsers"
)

// Outbound frame names.
const (
	EventNewMessage  = "newMessage"
	EventUserTyping  = "userTyping"
	EventMessageRead = "messageRead"
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"
	EventOnlineUsers = "onlineUsers"
	EventError       = "error"
)

// Inbound is one frame received from a client. Data is the raw JSON payload.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type (
	AuthenticateRequest struct {
		Token string `json:"token"`
	}

	RoomRequest struct {
		ConversationID string `json:"conversationId" validate:"required"`
	}

	SendMessageRequest struct {
		ConversationID string           `json:"conversationId" validate:"required"`
		Content        string           `json:"content"`
		Type           core.MessageType `json:"type" validate:"omitempty,oneof=text image file"`
	}

	TypingRequest struct {
		ConversationID string `json:"conversationId" validate:"required"`
		IsTyping       bool   `json:"isTyping"`
	}

	MarkReadRequest struct {
		MessageID      string `json:"messageId" validate:"required"`
		ConversationID string `json:"conversationId" validate:"required"`
	}
)

type (
	UserTypingEvent struct {
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
		IsTyping       bool   `json:"isTyping"`
	}

	MessageReadEvent struct {
		MessageID      string    `json:"messageId"`
		ConversationID string    `json:"conversationId"`
		UserID         string    `json:"userId"`
		ReadAt         time.Time `json:"readAt"`
	}

	PresenceEvent struct {
		UserID   string    `json:"userId"`
		LastSeen time.Time `json:"lastSeen"`
	}

	ErrorEvent struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// decode unmarshals and validates a frame payload.
func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", ErrValidation)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrValidation, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// decodeRoom accepts either a bare conversation id string or {conversationId}.
func decodeRoom(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		id = strings.TrimSpace(id)
		if id == "" {
			return "", fmt.Errorf("%w: conversationId is required", ErrValidation)
		}
		return id, nil
	}
	var req RoomRequest
	if err := decode(data, &req); err != nil {
		return "", err
	}
	return req.ConversationID, nil
}
