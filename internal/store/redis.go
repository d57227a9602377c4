package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const streamField = "v"

// RedisStore maps every path to one Redis key. Documents are strings holding
// JSON; Push collections are streams so generated keys keep insertion order.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces every key and may
// be empty.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: strings.TrimSpace(prefix)}
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb, prefix), nil
}

// Client exposes the underlying client for pub/sub wiring.
func (s *RedisStore) Client() *redis.Client { return s.rdb }

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) key(path string) (string, error) {
	p, err := Clean(path)
	if err != nil {
		return "", err
	}
	return s.prefix + p, nil
}

func (s *RedisStore) Get(ctx context.Context, path string) ([]byte, error) {
	k, err := s.key(path)
	if err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value []byte) error {
	k, err := s.key(path)
	if err != nil {
		return err
	}
	if value == nil {
		return s.rdb.Del(ctx, k).Err()
	}
	return s.rdb.Set(ctx, k, value, 0).Err()
}

func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.Transaction(ctx, path, func(cur []byte) ([]byte, error) {
		return mergeFields(cur, fields)
	})
}

// Remove deletes all paths in one DEL so a subtree disappears at once.
func (s *RedisStore) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		k, err := s.key(p)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) Push(ctx context.Context, path string, value []byte) (string, error) {
	k, err := s.key(path)
	if err != nil {
		return "", err
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: k,
		ID:     "*",
		Values: map[string]any{streamField: string(value)},
	}).Result()
}

func (s *RedisStore) Children(ctx context.Context, path string) ([]Entry, error) {
	k, err := s.key(path)
	if err != nil {
		return nil, err
	}
	msgs, err := s.rdb.XRange(ctx, k, "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		v, _ := m.Values[streamField].(string)
		out = append(out, Entry{Key: m.ID, Value: []byte(v)})
	}
	return out, nil
}

// Transaction runs fn under WATCH and commits with MULTI/EXEC. A conflicting
// write on the key restarts the attempt with a fresh read.
func (s *RedisStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	k, err := s.key(path)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, gerr := tx.Get(ctx, k).Bytes()
			if gerr == redis.Nil {
				cur = nil
			} else if gerr != nil {
				return gerr
			}
			next, ferr := fn(cur)
			if ferr != nil {
				return ferr
			}
			_, perr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, k)
				} else {
					pipe.Set(ctx, k, next, 0)
				}
				return nil
			})
			return perr
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return err
	}
	return ErrContention
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	p := strings.TrimLeft(strings.TrimSpace(prefix), "/")
	match := s.prefix + p + "*"
	var out []string
	iter := s.rdb.Scan(ctx, 0, match, 256).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
