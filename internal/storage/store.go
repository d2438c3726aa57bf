package storage

import (
	"context"
	"errors"
	"fmt"

	"skytalk/internal/models"
)

// ErrUnchanged may be returned by an Update function to skip the write.
// Update then returns nil.
var ErrUnchanged = errors.New("unchanged")

// KeyValueStore is a client-scoped blob store addressed by string keys.
type KeyValueStore interface {
	// Get returns the stored value or models.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte) error

	// Update atomically replaces the value of key with the result of fn.
	// fn receives nil when the key is absent; returning nil deletes the key.
	// Errors returned by fn are passed through unchanged and nothing is written.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error

	Close() error
}

// classify wraps a backend fault into the storage error taxonomy.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrStorage) || errors.Is(err, models.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w: %w", op, key, models.ErrTimeout, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, key, models.ErrStorage, err)
}
