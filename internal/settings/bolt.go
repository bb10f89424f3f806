package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"

	"listenmode/internal/log"
)

var bucketSettings = []byte("settings")

// boltStore keeps each key as a JSON value in one bucket.
type boltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the settings database at path.
func OpenBolt(path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create settings dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init settings bucket: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Get(_ context.Context) (Values, error) {
	var v Values
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b == nil {
			return nil
		}
		v.AutoEnable = decodeKey[bool](b, KeyAutoEnable)
		v.ChannelList = decodeKey[[]string](b, KeyChannelList)
		v.DisableChannelList = decodeKey[[]string](b, KeyDisableChannelList)
		return nil
	})
	return v, err
}

func (s *boltStore) Set(_ context.Context, p Patch) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketSettings)
		if err != nil {
			return err
		}
		if p.AutoEnable != nil {
			if err := putJSON(b, KeyAutoEnable, *p.AutoEnable); err != nil {
				return err
			}
		}
		if p.setChannels {
			if err := putJSON(b, KeyChannelList, nonNil(p.ChannelList)); err != nil {
				return err
			}
		}
		if p.setDisabled {
			if err := putJSON(b, KeyDisableChannelList, nonNil(p.DisableChannelList)); err != nil {
				return err
			}
		}
		return nil
	})
}

// decodeKey returns the zero value when the key is absent or malformed.
func decodeKey[T any](b *bbolt.Bucket, key string) T {
	var v T
	raw := b.Get([]byte(key))
	if raw == nil {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn(map[string]any{"key": key, "error": err.Error()}, "ignoring malformed settings value")
		var zero T
		return zero
	}
	return v
}

func putJSON(b *bbolt.Bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), raw)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
