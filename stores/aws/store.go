package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-relay/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps one JSON object per record. S3 has no transactions, so
// read-modify-write sequences are serialized inside this process: mu guards
// users and direct pointers, records holds one lock per conversation and
// message so traffic in one conversation never waits on another.
type s3Store struct {
	s3Client s3API
	bucket   string
	mu       sync.Mutex
	records  *keyLocks
}

// NewStore creates a new S3-based store using the default AWS credential chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

func newStoreWithClient(client s3API, bucket string) *s3Store {
	return &s3Store{s3Client: client, bucket: bucket, records: newKeyLocks()}
}

func (s *s3Store) Close() error {
	return nil
}

// keyPart rejects ids that would escape their key prefix.
func keyPart(id string) (string, error) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return id, nil
}

func userKey(id string) string         { return "users/" + id + ".json" }
func conversationKey(id string) string { return "conversations/" + id + ".json" }
func directKey(a, b string) string     { return "direct/" + core.DirectKey(a, b) }
func memberKey(uid, cid string) string { return "members/" + uid + "/" + cid }
func messageKey(id string) string      { return "messages/" + id + ".json" }

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, body []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *s3Store) getJSON(ctx context.Context, key string, dst any) error {
	data, err := s.getObject(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (s *s3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.putObject(ctx, key, data)
}

func (s *s3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.getObject(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *s3Store) FindUser(ctx context.Context, id string) (*core.User, error) {
	if _, err := keyPart(id); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	var user core.User
	if err := s.getJSON(ctx, userKey(id), &user); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	user.Online = false
	return &user, nil
}

func (s *s3Store) UpsertUser(ctx context.Context, user *core.User) error {
	if _, err := keyPart(user.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing core.User
	err := s.getJSON(ctx, userKey(user.ID), &existing)
	switch {
	case errors.Is(err, core.ErrNotFound):
		existing = core.User{ID: user.ID}
	case err != nil:
		return err
	}
	if user.Name != "" {
		existing.Name = user.Name
	}
	return s.putJSON(ctx, userKey(user.ID), existing)
}

func (s *s3Store) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var user core.User
	if err := s.getJSON(ctx, userKey(id), &user); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		return err
	}
	user.LastSeen = at
	return s.putJSON(ctx, userKey(id), user)
}

func (s *s3Store) FindOrCreateDirect(ctx context.Context, a, b string) (*core.Conversation, error) {
	for _, id := range []string{a, b} {
		if _, err := keyPart(id); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidConversation, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.getObject(ctx, directKey(a, b))
	if err == nil {
		var conv core.Conversation
		if err := s.getJSON(ctx, conversationKey(string(data)), &conv); err != nil {
			return nil, err
		}
		return &conv, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	conv, err := core.NewDirectConversation(ulid.Make().String(), a, b, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.putConversation(ctx, conv); err != nil {
		return nil, err
	}
	// the pointer is written last so a crash never leaves it dangling
	if err := s.putObject(ctx, directKey(a, b), []byte(conv.ID)); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"participants":    conv.Participants,
	}).Info("Direct conversation created")
	return conv, nil
}

func (s *s3Store) CreateGroup(ctx context.Context, name, adminID string, participants []string) (*core.Conversation, error) {
	conv, err := core.NewGroupConversation(ulid.Make().String(), name, adminID, participants, time.Now())
	if err != nil {
		return nil, err
	}
	for _, uid := range conv.Participants {
		if _, err := keyPart(uid); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidConversation, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putConversation(ctx, conv); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"participants":    len(conv.Participants),
	}).Info("Group conversation created")
	return conv, nil
}

func (s *s3Store) putConversation(ctx context.Context, conv *core.Conversation) error {
	if err := s.putJSON(ctx, conversationKey(conv.ID), conv); err != nil {
		return err
	}
	for _, uid := range conv.Participants {
		if err := s.putObject(ctx, memberKey(uid, conv.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *s3Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	if _, err := keyPart(id); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	var conv core.Conversation
	if err := s.getJSON(ctx, conversationKey(id), &conv); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &conv, nil
}

func (s *s3Store) FindConversationsForUser(ctx context.Context, userID string) ([]*core.Conversation, error) {
	if _, err := keyPart(userID); err != nil {
		return nil, nil
	}
	prefix := "members/" + userID + "/"
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations for user %s: %w", userID, err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	sort.Strings(ids)

	convs := make([]*core.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (s *s3Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if _, err := keyPart(conversationID); err != nil {
		return false, nil
	}
	if _, err := keyPart(userID); err != nil {
		return false, nil
	}
	return s.exists(ctx, memberKey(userID, conversationID))
}

func (s *s3Store) AppendMessage(ctx context.Context, msg *core.Message) error {
	if _, err := keyPart(msg.ID); err != nil {
		return err
	}
	defer s.records.lock(conversationKey(msg.ConversationID))()
	defer s.records.lock(messageKey(msg.ID))()

	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if found, err := s.exists(ctx, messageKey(msg.ID)); err != nil {
		return err
	} else if found {
		return fmt.Errorf("message %s already exists", msg.ID)
	}

	stored := msg.Clone()
	stored.Sender = nil
	if err := s.putJSON(ctx, messageKey(msg.ID), stored); err != nil {
		return err
	}
	conv.LastMessageID = msg.ID
	conv.LastActivity = msg.CreatedAt
	if err := s.putJSON(ctx, conversationKey(conv.ID), conv); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	}).Debug("Message stored")
	return nil
}

func (s *s3Store) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	if _, err := keyPart(id); err != nil {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	var msg core.Message
	if err := s.getJSON(ctx, messageKey(id), &msg); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &msg, nil
}

func (s *s3Store) AppendReadReceipt(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	defer s.records.lock(messageKey(messageID))()

	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.HasRead(userID) {
		return false, nil
	}
	msg.ReadBy = append(msg.ReadBy, core.ReadReceipt{UserID: userID, ReadAt: at})
	if err := s.putJSON(ctx, messageKey(messageID), msg); err != nil {
		return false, err
	}
	return true, nil
}
