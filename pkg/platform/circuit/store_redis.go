package circuit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "circuit:"

// RedisStore keeps each breaker row as a JSON value and swaps it under WATCH.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(service string) string {
	return redisKeyPrefix + service
}

func (s *RedisStore) Load(ctx context.Context, service string) (State, error) {
	return loadRedisState(ctx, s.client, service)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadRedisState(ctx context.Context, c redisGetter, service string) (State, error) {
	raw, err := c.Get(ctx, redisKey(service)).Bytes()
	if errors.Is(err, redis.Nil) {
		return closedState(service), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get circuit state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode circuit state: %w", err)
	}
	return st, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, expected int64, next State) (bool, error) {
	key := redisKey(next.Service)
	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := loadRedisState(ctx, tx, next.Service)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return nil
		}
		next.Version = expected + 1
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode circuit state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("swap circuit state: %w", err)
	}
	return swapped, nil
}
