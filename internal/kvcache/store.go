// 包 kvcache：带 TTL 的键值缓存抽象，支持按前缀枚举与删除；缓存只是加速层，不是数据源
package kvcache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheUnavailable = errors.New("cache unavailable")

// Store：底层键值存储契约
// 约束：Get 未命中返回 (nil, false, nil)；仅在存储不可达等异常时返回 error
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}
