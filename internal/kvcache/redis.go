package kvcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scanCount = 500
	delChunk  = 500
)

// RedisStore：基于 go-redis 的 Store 实现，前缀枚举走 SCAN MATCH，不使用阻塞的 KEYS
type RedisStore struct {
	rc *redis.Client
}

func NewRedisStore(rc *redis.Client) *RedisStore { return &RedisStore{rc: rc} }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rc.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrCacheUnavailable, key, err)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.rc.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.rc.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrCacheUnavailable, prefix, err)
	}
	return out, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	for len(keys) > 0 {
		n := len(keys)
		if n > delChunk {
			n = delChunk
		}
		if err := s.rc.Del(ctx, keys[:n]...).Err(); err != nil {
			return fmt.Errorf("%w: del: %v", ErrCacheUnavailable, err)
		}
		keys = keys[n:]
	}
	return nil
}

// escapeGlob：转义 Redis glob 元字符，保证前缀按字面匹配
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
