package codestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// compare-and-delete on the encoded entry's code field
var consumeScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local entry = cjson.decode(raw)
if entry["code"] ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

type redisEntry struct {
	Code     string `json:"code"`
	IssuedAt int64  `json:"issued_at"`
}

// RedisStore keeps entries as JSON values with a native TTL.
type RedisStore struct {
	rdb redis.UniversalClient
	Now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	raw, err := json.Marshal(redisEntry{Code: code, IssuedAt: s.Now().UnixMilli()})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("codestore put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("codestore get: %w", err)
	}

	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("codestore decode: %w", err)
	}
	return Entry{Code: e.Code, IssuedAt: time.UnixMilli(e.IssuedAt).UTC()}, true, nil
}

func (s *RedisStore) Consume(ctx context.Context, key, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.rdb, []string{key}, code).Int()
	if err != nil {
		return false, fmt.Errorf("codestore consume: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("codestore delete: %w", err)
	}
	return nil
}
