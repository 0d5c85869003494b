package kvcache

import (
	"context"
	"time"

	"geoheat/internal/logger"
	"geoheat/internal/metrics"

	"github.com/vmihailenco/msgpack/v5"
)

// Memo：类型化的记忆缓存，值以 msgpack 序列化
// 约束：任何存储或编解码失败只记录日志与指标，对调用方表现为未命中或空操作
type Memo[V any] struct {
	store     Store
	name      string
	ttl       time.Duration
	opTimeout time.Duration
}

// NewMemo：name 用作日志与指标标签；opTimeout<=0 时只受调用方 ctx 约束
func NewMemo[V any](store Store, name string, ttl, opTimeout time.Duration) *Memo[V] {
	return &Memo[V]{store: store, name: name, ttl: ttl, opTimeout: opTimeout}
}

func (m *Memo[V]) TTL() time.Duration { return m.ttl }

func (m *Memo[V]) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.opTimeout)
}

func (m *Memo[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if m == nil || m.store == nil {
		return zero, false
	}
	cctx, cancel := m.opCtx(ctx)
	defer cancel()
	b, ok, err := m.store.Get(cctx, key)
	if err != nil {
		m.fail("get", key, err)
		metrics.CacheMissesTotal.WithLabelValues(m.name).Inc()
		return zero, false
	}
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(m.name).Inc()
		return zero, false
	}
	var v V
	if err := msgpack.Unmarshal(b, &v); err != nil {
		m.fail("decode", key, err)
		metrics.CacheMissesTotal.WithLabelValues(m.name).Inc()
		return zero, false
	}
	metrics.CacheHitsTotal.WithLabelValues(m.name).Inc()
	return v, true
}

func (m *Memo[V]) Set(ctx context.Context, key string, v V) {
	if m == nil || m.store == nil {
		return
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		m.fail("encode", key, err)
		return
	}
	cctx, cancel := m.opCtx(ctx)
	defer cancel()
	if err := m.store.Set(cctx, key, b, m.ttl); err != nil {
		m.fail("set", key, err)
	}
}

// InvalidatePrefix：删除所有以 prefix 开头的键，返回删除数量；失败时返回 0
func (m *Memo[V]) InvalidatePrefix(ctx context.Context, prefix string) int {
	if m == nil || m.store == nil {
		return 0
	}
	cctx, cancel := m.opCtx(ctx)
	defer cancel()
	keys, err := m.store.Keys(cctx, prefix)
	if err != nil {
		m.fail("keys", prefix, err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	if err := m.store.Del(cctx, keys...); err != nil {
		m.fail("del", prefix, err)
		return 0
	}
	metrics.CacheInvalidatedTotal.WithLabelValues(m.name).Add(float64(len(keys)))
	logger.L().Debug("cache_invalidated", "cache", m.name, "prefix", prefix, "keys", len(keys))
	return len(keys)
}

func (m *Memo[V]) fail(op, key string, err error) {
	metrics.CacheErrorsTotal.WithLabelValues(m.name, op).Inc()
	logger.L().Warn("cache_degraded", "cache", m.name, "op", op, "key", key, "err", err)
}
