//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

package relay

import "chat-relay/core"

// Store is the storage the hub needs: identities, conversations and messages.
type Store interface {
	core.UserStore
	core.ConversationStore
	core.MessageStore
}
