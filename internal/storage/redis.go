package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skytalk/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultMaxRetries = 10

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	KeyPrefix  string // optional namespace, e.g. "skytalk:"
	MaxRetries int    // optimistic transaction retries per Update
}

// RedisStore shares room blobs between several client instances.
// Update uses WATCH/MULTI so concurrent writers never lose each other's changes.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &RedisStore{
		client:     client,
		prefix:     cfg.KeyPrefix,
		maxRetries: maxRetries,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, classify("get", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return classify("set", key, s.client.Set(ctx, s.prefix+key, value, 0).Err())
}

func (s *RedisStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	fullKey := s.prefix + key

	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = nil
		case err != nil:
			return err
		}

		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, fullKey)
				return nil
			}
			pipe.Set(ctx, fullKey, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, fullKey)

		switch {
		case errors.Is(fnErr, ErrUnchanged):
			return nil
		case fnErr != nil:
			return fnErr
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			// Another writer changed the key between WATCH and EXEC.
			continue
		default:
			return classify("update", key, err)
		}
	}

	return fmt.Errorf("update %s: %w: gave up after %d conflicting writes", key, models.ErrStorage, s.maxRetries)
}
