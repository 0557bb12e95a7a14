package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelchamgl/reli.one-sub000/internal/storage"
)

const (
	clientKeyPrefix = "reli:client:"
	userKeyPrefix   = "reli:user:"
)

// Store implements storage.ClientStore and storage.UserIndex. Each client is
// one Redis hash whose fields are the client store keys; the hash expires
// after ttl of inactivity.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a Redis-backed client store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func clientKey(clientID string) string { return clientKeyPrefix + clientID }

func userKey(userID string) string { return userKeyPrefix + userID + ":clients" }

// Get returns one field of the client hash.
func (s *Store) Get(ctx context.Context, clientID, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, clientKey(clientID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	return v, true, nil
}

// GetMany returns the fields of keys that are present.
func (s *Store) GetMany(ctx context.Context, clientID string, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.client.HMGet(ctx, clientKey(clientID), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// Set writes values and refreshes the hash TTL.
func (s *Store) Set(ctx context.Context, clientID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	key := clientKey(clientID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Delete removes fields from the client hash.
func (s *Store) Delete(ctx context.Context, clientID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, clientKey(clientID), keys...).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// CompareAndSwap uses WATCH/MULTI on the client hash. A concurrent write to
// any field of the same client aborts the transaction and returns false.
func (s *Store) CompareAndSwap(ctx context.Context, clientID, field string, check storage.CheckFunc, values map[string]string) (bool, error) {
	key := clientKey(clientID)
	swapped := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, field).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("redis hget %s: %w", field, err)
		}

		if !check(current, exists) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
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
		return false, fmt.Errorf("redis compare-and-swap %s: %w", field, err)
	}
	return swapped, nil
}

// BindUser records that userID is logged in on clientID.
func (s *Store) BindUser(ctx context.Context, userID, clientID string) error {
	key := userKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, clientID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sadd user client: %w", err)
	}
	return nil
}

// UnbindClient removes one client from the user's set.
func (s *Store) UnbindClient(ctx context.Context, userID, clientID string) error {
	if err := s.client.SRem(ctx, userKey(userID), clientID).Err(); err != nil {
		return fmt.Errorf("redis srem user client: %w", err)
	}
	return nil
}

// ClientsOf lists the clients bound to userID.
func (s *Store) ClientsOf(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers user clients: %w", err)
	}
	return ids, nil
}

// ForgetUser drops the user's client set.
func (s *Store) ForgetUser(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del user clients: %w", err)
	}
	return nil
}

// Ping checks the connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
