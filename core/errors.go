package core

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidConversation is returned when a conversation breaks its shape rules.
	ErrInvalidConversation = errors.New("invalid conversation")
)
