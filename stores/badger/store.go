package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chat-relay/core"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Key layout:
//
//	user:{id}                        -> core.User
//	conv:{id}                        -> core.Conversation
//	direct:{core.DirectKey}          -> conversation id
//	member:{len}:{userID}:{convID}   -> empty, one per participant
//	msg:{id}                         -> core.Message
const (
	userPrefix   = "user:"
	convPrefix   = "conv:"
	directPrefix = "direct:"
	memberPrefix = "member:"
	msgPrefix    = "msg:"
)

// maxConflictRetries bounds retries of a read-modify-write transaction that
// lost a commit race.
const maxConflictRetries = 10

type badgerStore struct {
	db *badger.DB
}

// NewStore opens (or creates) a badger database under path.
func NewStore(path string) (*badgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &badgerStore{db: db}, nil
}

// NewStoreFromDB wraps an already opened database.
func NewStoreFromDB(db *badger.DB) *badgerStore {
	return &badgerStore{db: db}
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on commit conflicts.
func (s *badgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key string, dst any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), b)
}

func (s *badgerStore) FindUser(ctx context.Context, id string) (*core.User, error) {
	var user core.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userPrefix+id, &user)
	})
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	user.Online = false
	return &user, nil
}

func (s *badgerStore) UpsertUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	return s.update(func(txn *badger.Txn) error {
		var existing core.User
		err := getJSON(txn, userPrefix+user.ID, &existing)
		switch {
		case errors.Is(err, core.ErrNotFound):
			existing = core.User{ID: user.ID}
		case err != nil:
			return err
		}
		if user.Name != "" {
			existing.Name = user.Name
		}
		return setJSON(txn, userPrefix+user.ID, existing)
	})
}

func (s *badgerStore) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	return s.update(func(txn *badger.Txn) error {
		var user core.User
		if err := getJSON(txn, userPrefix+id, &user); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
			}
			return err
		}
		user.LastSeen = at
		return setJSON(txn, userPrefix+id, user)
	})
}

func (s *badgerStore) FindOrCreateDirect(ctx context.Context, a, b string) (*core.Conversation, error) {
	key := directPrefix + core.DirectKey(a, b)
	var (
		conv    *core.Conversation
		created bool
	)
	err := s.update(func(txn *badger.Txn) error {
		created = false
		item, err := txn.Get([]byte(key))
		if err == nil {
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			conv = &core.Conversation{}
			return getJSON(txn, convPrefix+string(id), conv)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		conv, err = core.NewDirectConversation(ulid.Make().String(), a, b, time.Now())
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(key), []byte(conv.ID)); err != nil {
			return err
		}
		created = true
		return putConversation(txn, conv)
	})
	if err != nil {
		return nil, err
	}
	if created {
		logrus.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"participants":    conv.Participants,
		}).Info("Direct conversation created")
	}
	return conv, nil
}

func (s *badgerStore) CreateGroup(ctx context.Context, name, adminID string, participants []string) (*core.Conversation, error) {
	conv, err := core.NewGroupConversation(ulid.Make().String(), name, adminID, participants, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.update(func(txn *badger.Txn) error {
		return putConversation(txn, conv)
	}); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"participants":    len(conv.Participants),
	}).Info("Group conversation created")
	return conv, nil
}

func putConversation(txn *badger.Txn, conv *core.Conversation) error {
	if err := setJSON(txn, convPrefix+conv.ID, conv); err != nil {
		return err
	}
	for _, uid := range conv.Participants {
		if err := txn.Set([]byte(memberKey(uid, conv.ID)), nil); err != nil {
			return err
		}
	}
	return nil
}

// userMemberPrefix is the prefix of every membership key of userID. The id is
// length-prefixed so "a" never matches the keys of "a:b".
func userMemberPrefix(userID string) string {
	return memberPrefix + strconv.Itoa(len(userID)) + ":" + userID + ":"
}

func memberKey(userID, conversationID string) string {
	return userMemberPrefix(userID) + conversationID
}

func (s *badgerStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	var conv core.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, convPrefix+id, &conv)
	})
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *badgerStore) FindConversationsForUser(ctx context.Context, userID string) ([]*core.Conversation, error) {
	var convs []*core.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(userMemberPrefix(userID))
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			convID := string(it.Item().Key()[len(prefix):])
			conv := &core.Conversation{}
			if err := getJSON(txn, convPrefix+convID, conv); err != nil {
				return fmt.Errorf("conversation %s: %w", convID, err)
			}
			convs = append(convs, conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *badgerStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(memberKey(userID, conversationID)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *badgerStore) AppendMessage(ctx context.Context, msg *core.Message) error {
	stored := msg.Clone()
	stored.Sender = nil

	err := s.update(func(txn *badger.Txn) error {
		var conv core.Conversation
		if err := getJSON(txn, convPrefix+msg.ConversationID, &conv); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("conversation %s: %w", msg.ConversationID, core.ErrNotFound)
			}
			return err
		}
		if _, err := txn.Get([]byte(msgPrefix + msg.ID)); err == nil {
			return fmt.Errorf("message %s already exists", msg.ID)
		}
		if err := setJSON(txn, msgPrefix+msg.ID, stored); err != nil {
			return err
		}
		conv.LastMessageID = msg.ID
		conv.LastActivity = msg.CreatedAt
		return setJSON(txn, convPrefix+conv.ID, conv)
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	}).Debug("Message stored")
	return nil
}

func (s *badgerStore) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	var msg core.Message
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, msgPrefix+id, &msg)
	})
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *badgerStore) AppendReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	var added bool
	err := s.update(func(txn *badger.Txn) error {
		added = false
		var msg core.Message
		if err := getJSON(txn, msgPrefix+messageID, &msg); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("message %s: %w", messageID, core.ErrNotFound)
			}
			return err
		}
		if msg.HasRead(userID) {
			return nil
		}
		msg.ReadBy = append(msg.ReadBy, core.ReadReceipt{UserID: userID, ReadAt: at})
		added = true
		return setJSON(txn, msgPrefix+messageID, msg)
	})
	return added, err
}
