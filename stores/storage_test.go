package stores

import (
	"context"
	"path/filepath"
	"testing"

	"chat-relay/config"

	"github.com/stretchr/testify/require"
)

func TestGetStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"memory", config.Config{StorageType: "memory"}},
		{"sqlite", config.Config{StorageType: "sqlite", DataSourceName: filepath.Join(dir, "relay.db")}},
		{"badger", config.Config{StorageType: "badger", BadgerPath: filepath.Join(dir, "badger")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := GetStore(context.Background(), &tt.cfg)
			require.NoError(t, err)
			require.NoError(t, store.Close())
		})
	}
}

func TestGetStore_Errors(t *testing.T) {
	_, err := GetStore(context.Background(), &config.Config{StorageType: "s3"})
	require.Error(t, err)

	_, err = GetStore(context.Background(), &config.Config{StorageType: "mongo"})
	require.Error(t, err)
}
