package stores

import (
	"context"
	"fmt"
	"io"

	"chat-relay/config"
	"chat-relay/core"
	"chat-relay/stores/aws"
	"chat-relay/stores/badger"
	"chat-relay/stores/memory"
	"chat-relay/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.UserStore
	core.ConversationStore
	core.MessageStore
	io.Closer
}

// GetStore opens the backend selected by STORAGE_TYPE.
func GetStore(ctx context.Context, cfg *config.Config) (Store, error) {
	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	var (
		store Store
		err   error
	)
	switch cfg.StorageType {
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewStore(cfg.DataSourceName)
	case "badger":
		storageField["path"] = cfg.BadgerPath
		store, err = badger.NewStore(cfg.BadgerPath)
	case "s3":
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store, err = aws.NewStore(ctx, cfg.S3BucketName)
	case "memory", "":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
	if err != nil {
		return nil, err
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
