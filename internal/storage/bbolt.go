package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"skytalk/internal/models"

	"go.etcd.io/bbolt"
)

var bucketKV = []byte("kv")

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("get", key, err)
	}

	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketKV).Get([]byte(key))
		if data == nil {
			return models.ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		value = bytes.Clone(data)
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return value, classify("get", key, err)
}

func (s *BboltStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return classify("set", key, err)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), value)
	})
	return classify("set", key, err)
}

// Update runs fn inside a single bbolt write transaction,
// so concurrent updates of the same key are serialized.
func (s *BboltStorage) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return classify("update", key, err)
	}

	var fnErr error
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		current := bytes.Clone(b.Get([]byte(key)))

		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}

		if next == nil {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), next)
	})

	switch {
	case errors.Is(fnErr, ErrUnchanged):
		return nil
	case fnErr != nil:
		return fnErr
	}
	return classify("update", key, err)
}
