// 包 heatmap：时间衰减的地理活动热力图，按 geohash 单元聚合公开帖子
package heatmap

import (
	"context"
	"strings"
	"time"

	"geoheat/internal/geohash"
)

type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityFollowers Visibility = "FOLLOWERS"
	VisibilityPrivate   Visibility = "PRIVATE"
)

// Location：帖子坐标；GeohashIndex 为空表示尚未建立空间索引
type Location struct {
	Lat          float64
	Lng          float64
	GeohashIndex string
}

// Post：聚合只关心的帖子字段；Location 为 nil 表示无位置，CreatedAt 零值表示缺失
type Post struct {
	ID         string
	Location   *Location
	Tags       []string
	CreatedAt  time.Time
	Visibility Visibility
}

// Cell：一个 geohash 单元的聚合结果，坐标为单元中心
type Cell struct {
	Geohash string   `json:"geohash" msgpack:"g"`
	Lat     float64  `json:"lat" msgpack:"la"`
	Lng     float64  `json:"lng" msgpack:"ln"`
	Weight  float64  `json:"weight" msgpack:"w"`
	TopTags []string `json:"topTags" msgpack:"t"`
}

// Query：一次热力图请求；Box 为 nil 表示全球，Tag 为空表示不过滤
type Query struct {
	Box        *BoundingBox
	Precision  int
	SinceHours int
	Tag        string
}

// Normalize：精度截断到 [1,12]，标签去空白并转小写
func (q Query) Normalize() Query {
	q.Precision = geohash.ClampPrecision(q.Precision)
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	if q.SinceHours < 0 {
		q.SinceHours = 0
	}
	return q
}

// PostFilter：下推到帖子存储的查询条件
// 约束：Since 零值表示不限时间；Tag 已小写，空表示不过滤
type PostFilter struct {
	Box   BoundingBox
	Since time.Time
	Tag   string
}

// PostQuerier：只读帖子查询，返回可完整物化的结果集
type PostQuerier interface {
	QueryHeatmapPosts(ctx context.Context, f PostFilter) ([]Post, error)
}
