package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skytalk/internal/models"
)

type timeoutStore struct {
	next    KeyValueStore
	timeout time.Duration
}

// WithTimeout bounds every call to store by timeout.
// Calls that run out of time fail with models.ErrTimeout instead of hanging.
func WithTimeout(store KeyValueStore, timeout time.Duration) KeyValueStore {
	if timeout <= 0 {
		return store
	}
	return &timeoutStore{next: store, timeout: timeout}
}

func (s *timeoutStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, err := s.next.Get(ctx, key)
	return value, s.check(ctx, "get", key, err)
}

func (s *timeoutStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.check(ctx, "set", key, s.next.Set(ctx, key, value))
}

func (s *timeoutStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.check(ctx, "update", key, s.next.Update(ctx, key, fn))
}

func (s *timeoutStore) Close() error {
	return s.next.Close()
}

func (s *timeoutStore) check(ctx context.Context, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		(ctx.Err() == context.DeadlineExceeded && errors.Is(err, models.ErrStorage)) {
		return fmt.Errorf("%s %s: %w: %w", op, key, models.ErrTimeout, err)
	}
	return err
}
