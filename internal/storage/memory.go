package storage

import (
	"bytes"
	"context"
	"errors"

	"skytalk/internal/models"

	"github.com/c-pro/geche"
)

// MemoryStore keeps blobs in process memory. It is used for tests
// and for running without a database file.
type MemoryStore struct {
	data *geche.Locker[string, []byte]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: geche.NewLocker[string, []byte](geche.NewMapCache[string, []byte]()),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("get", key, err)
	}

	tx := s.data.RLock()
	defer tx.Unlock()

	value, err := tx.Get(key)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return classify("set", key, err)
	}

	tx := s.data.Lock()
	defer tx.Unlock()

	tx.Set(key, bytes.Clone(value))
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return classify("update", key, err)
	}

	tx := s.data.Lock()
	defer tx.Unlock()

	var current []byte
	if value, err := tx.Get(key); err == nil {
		current = bytes.Clone(value)
	}

	next, err := fn(current)
	if errors.Is(err, ErrUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	if next == nil {
		_ = tx.Del(key)
		return nil
	}
	tx.Set(key, bytes.Clone(next))
	return nil
}
