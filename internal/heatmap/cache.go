package heatmap

import (
	"context"
	"strconv"
	"strings"
	"time"

	"geoheat/internal/kvcache"
	"geoheat/internal/logger"
)

const (
	CacheTTL  = 45 * time.Second
	KeyPrefix = "heatmap:"

	worldKey = "world"
	noTagKey = "_"
)

// Cache：按查询参数缓存单元列表
// 键格式：heatmap:<bbox|world>:<precision>:<sinceHours>:<tag|_>，顺序固定以便按 bbox 前缀失效
type Cache struct {
	memo *kvcache.Memo[[]Cell]
}

// NewCache：ttl<=0 时使用 CacheTTL
func NewCache(store kvcache.Store, ttl, opTimeout time.Duration) *Cache {
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &Cache{memo: kvcache.NewMemo[[]Cell](store, "heatmap", ttl, opTimeout)}
}

// CacheKey：相同参数（归一化后）总是得到相同的键
func CacheKey(q Query) string {
	q = q.Normalize()
	box := worldKey
	if q.Box != nil {
		box = q.Box.Canonical()
	}
	tag := noTagKey
	if q.Tag != "" {
		tag = q.Tag
	}
	var b strings.Builder
	b.Grow(len(KeyPrefix) + len(box) + len(tag) + 16)
	b.WriteString(KeyPrefix)
	b.WriteString(box)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(q.Precision))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(q.SinceHours))
	b.WriteByte(':')
	b.WriteString(tag)
	return b.String()
}

// Get：未命中、过期或缓存不可用都返回 false
func (c *Cache) Get(ctx context.Context, q Query) ([]Cell, bool) {
	if c == nil {
		return nil, false
	}
	cells, ok := c.memo.Get(ctx, CacheKey(q))
	if ok && cells == nil {
		cells = []Cell{}
	}
	return cells, ok
}

func (c *Cache) Set(ctx context.Context, q Query, cells []Cell) {
	if c == nil {
		return
	}
	c.memo.Set(ctx, CacheKey(q), cells)
}

// InvalidateAll：删除全部热力图缓存项
func (c *Cache) InvalidateAll(ctx context.Context) int {
	if c == nil {
		return 0
	}
	n := c.memo.InvalidatePrefix(ctx, KeyPrefix)
	logger.L().Info("heatmap_cache_invalidate_all", "keys", n)
	return n
}

// InvalidateForBoundingBox：删除以该 bbox 构建的所有键，不区分精度、时间窗与标签
// 约束：可解析的输入先规范化；无法解析时按原样匹配
func (c *Cache) InvalidateForBoundingBox(ctx context.Context, bboxCanonical string) int {
	if c == nil {
		return 0
	}
	box := strings.TrimSpace(bboxCanonical)
	if b, err := ParseBoundingBox(box); err == nil {
		box = b.Canonical()
	}
	n := c.memo.InvalidatePrefix(ctx, KeyPrefix+box+":")
	logger.L().Info("heatmap_cache_invalidate_bbox", "bbox", box, "keys", n)
	return n
}
