package heatmap

import (
	"context"
	"fmt"
	"time"

	"geoheat/internal/logger"

	"golang.org/x/sync/singleflight"
)

// Service：读路径入口，缓存命中直接返回，未命中计算后回填
// 约束：同一键的并发未命中合并为一次计算；返回的切片在调用方之间共享，只读
type Service struct {
	agg          *Aggregator
	cache        *Cache
	group        singleflight.Group
	now          func() time.Time
	queryTimeout time.Duration
}

type ServiceOption func(*Service)

// WithClock：注入当前时间，衰减计算不读取全局时钟
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithQueryTimeout：单次聚合的超时，<=0 表示不设上限
func WithQueryTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.queryTimeout = d }
}

// NewService：cache 可为 nil，此时每次都重新计算
func NewService(agg *Aggregator, cache *Cache, opts ...ServiceOption) *Service {
	s := &Service{agg: agg, cache: cache, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Heatmap(ctx context.Context, q Query) ([]Cell, error) {
	q = q.Normalize()
	if cells, ok := s.cache.Get(ctx, q); ok {
		logger.L().Debug("heatmap_cache_hit", "key", CacheKey(q), "cells", len(cells))
		return cells, nil
	}
	key := CacheKey(q)
	// 共享计算不继承任何单个调用方的取消，只受 queryTimeout 约束；各调用方只等待自己的 ctx
	ch := s.group.DoChan(key, func() (any, error) {
		cctx, cancel := s.computeCtx(context.WithoutCancel(ctx))
		defer cancel()
		cells, err := s.agg.Compute(cctx, q, s.now())
		if err != nil {
			return nil, err
		}
		s.cache.Set(cctx, q, cells)
		return cells, nil
	})
	select {
	case <-ctx.Done():
		logger.L().Debug("heatmap_caller_gone", "key", key, "err", ctx.Err())
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			logger.L().Warn("heatmap_compute_error", "key", key, "err", res.Err)
			return nil, res.Err
		}
		logger.L().Debug("heatmap_cache_miss", "key", key, "shared", res.Shared)
		return res.Val.([]Cell), nil
	}
}

func (s *Service) computeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Invalidate：新帖子落在 bbox 内时调用
func (s *Service) Invalidate(ctx context.Context, bboxCanonical string) int {
	return s.cache.InvalidateForBoundingBox(ctx, bboxCanonical)
}

func (s *Service) InvalidateAll(ctx context.Context) int {
	return s.cache.InvalidateAll(ctx)
}
