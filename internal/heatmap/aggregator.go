package heatmap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"geoheat/internal/geohash"
	"geoheat/internal/logger"
	"geoheat/internal/metrics"
)

const (
	// DecayTau：衰减时间常数（小时），年龄每增加 τ 权重乘以 1/e
	DecayTau = 72.0
	// MissingTimestampWeight：缺少创建时间的帖子的固定权重
	MissingTimestampWeight = 0.1
	MaxTopTags             = 2
)

var ErrAggregationFailed = errors.New("heatmap aggregation failed")

// Aggregator：查询 → 分桶 → 衰减加权 → 排序；无共享可变状态，可并发调用
type Aggregator struct {
	posts         PostQuerier
	zeroIsMissing bool
}

type AggregatorOption func(*Aggregator)

// WithZeroIsMissing：把 (0,0) 视为无位置，仅用于兼容以零值表示缺失坐标的历史数据
func WithZeroIsMissing(on bool) AggregatorOption {
	return func(a *Aggregator) { a.zeroIsMissing = on }
}

func NewAggregator(posts PostQuerier, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{posts: posts}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Decay：单个帖子的权重 exp(-age/τ)；未来时间按 0 岁计，缺失时间返回固定最小权重
func Decay(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return MissingTimestampWeight
	}
	age := now.Sub(createdAt).Hours()
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / DecayTau)
}

type cellAcc struct {
	weight float64
	tags   map[string]int
}

// Compute：按 q 聚合热力图单元，结果按权重降序，同权重按 geohash 升序
// 异常：存储查询失败或 ctx 结束包装为 ErrAggregationFailed；空结果返回空切片
func (a *Aggregator) Compute(ctx context.Context, q Query, now time.Time) ([]Cell, error) {
	q = q.Normalize()
	f := PostFilter{Box: World(), Tag: q.Tag}
	if q.Box != nil {
		f.Box = *q.Box
	}
	if q.SinceHours > 0 {
		f.Since = now.Add(-time.Duration(q.SinceHours) * time.Hour)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
	}
	tBegin := time.Now()
	posts, err := a.posts.QueryHeatmapPosts(ctx, f)
	if err != nil {
		metrics.ComputeFailTotal.Inc()
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
	}

	groups := make(map[string]*cellAcc)
	skipped := 0
	for i := range posts {
		p := &posts[i]
		if !a.eligible(p, f) {
			skipped++
			continue
		}
		g, err := geohash.Encode(p.Location.Lat, p.Location.Lng, q.Precision)
		if err != nil {
			logger.L().Debug("heatmap_post_skipped", "post_id", p.ID, "err", err)
			skipped++
			continue
		}
		acc := groups[g]
		if acc == nil {
			acc = &cellAcc{tags: make(map[string]int)}
			groups[g] = acc
		}
		acc.weight += Decay(p.CreatedAt, now)
		for _, t := range p.Tags {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				acc.tags[t]++
			}
		}
	}

	cells := make([]Cell, 0, len(groups))
	for g, acc := range groups {
		d, err := geohash.Decode(g)
		if err != nil {
			// Encode 的输出必然可解码
			return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, err)
		}
		cells = append(cells, Cell{Geohash: g, Lat: d.Lat, Lng: d.Lng, Weight: acc.weight, TopTags: topTags(acc.tags, MaxTopTags)})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Weight != cells[j].Weight {
			return cells[i].Weight > cells[j].Weight
		}
		return cells[i].Geohash < cells[j].Geohash
	})
	metrics.ComputeDurationMs.Observe(float64(time.Since(tBegin).Milliseconds()))
	metrics.CellsReturned.Observe(float64(len(cells)))
	logger.L().Debug("heatmap_computed", "posts", len(posts), "skipped", skipped, "cells", len(cells), "precision", q.Precision)
	return cells, nil
}

// eligible：在内存中复核存储层条件，存储返回的超集不会污染结果
func (a *Aggregator) eligible(p *Post, f PostFilter) bool {
	if p.Visibility != VisibilityPublic || p.Location == nil {
		return false
	}
	lat, lng := p.Location.Lat, p.Location.Lng
	if a.zeroIsMissing && lat == 0 && lng == 0 {
		return false
	}
	if !f.Box.Contains(lat, lng) {
		return false
	}
	if !f.Since.IsZero() && (p.CreatedAt.IsZero() || p.CreatedAt.Before(f.Since)) {
		return false
	}
	if f.Tag != "" {
		for _, t := range p.Tags {
			if strings.EqualFold(strings.TrimSpace(t), f.Tag) {
				return true
			}
		}
		return false
	}
	return true
}

// topTags：按频次降序取前 n 个，同频按字典序
func topTags(counts map[string]int, n int) []string {
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}
