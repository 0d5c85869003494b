// 包 iplocate：按访问者 IP 推断默认视口，用于未携带 bbox 的热力图请求
package iplocate

import (
	"math"
	"net"

	"geoheat/internal/geohash"
	"geoheat/internal/heatmap"
	"geoheat/internal/logger"

	"github.com/oschwald/geoip2-golang"
)

// ViewportPrecision：视口取所在 geohash 单元及其 8 个邻居，4 位约 120km x 60km
const ViewportPrecision = 4

// Locator：GeoLite2-City mmdb 读取器；nil 表示未配置，所有查询返回未命中
type Locator struct {
	db *geoip2.Reader
}

func Open(path string) (*Locator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Locator{db: db}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Lookup：返回 IP 的大致坐标；内网、回环地址或库中无坐标时 ok=false
func (l *Locator) Lookup(ip string) (lat, lng float64, ok bool) {
	if l == nil || l.db == nil {
		return 0, 0, false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return 0, 0, false
	}
	rec, err := l.db.City(parsed)
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", ip, "err", err)
		return 0, 0, false
	}
	// 未知地址的记录坐标与精度半径均为零值
	if rec.Location.AccuracyRadius == 0 && rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return 0, 0, false
	}
	return rec.Location.Latitude, rec.Location.Longitude, true
}

// Viewport：IP 所在位置的默认视口
func (l *Locator) Viewport(ip string) (heatmap.BoundingBox, bool) {
	lat, lng, ok := l.Lookup(ip)
	if !ok {
		return heatmap.BoundingBox{}, false
	}
	return ViewportAround(lat, lng, ViewportPrecision)
}

// ViewportAround：坐标所在单元与相邻单元的外接矩形
// 约束：跨越经度 ±180 的邻居不参与合并，极地方向缺失的邻居自然跳过
func ViewportAround(lat, lng float64, precision int) (heatmap.BoundingBox, bool) {
	g, err := geohash.Encode(lat, lng, precision)
	if err != nil {
		return heatmap.BoundingBox{}, false
	}
	cells, err := geohash.Neighbors(g)
	if err != nil {
		return heatmap.BoundingBox{}, false
	}
	cells = append(cells, g)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, c := range cells {
		d, err := geohash.Decode(c)
		if err != nil {
			continue
		}
		if math.Abs(d.Lng-lng) > 180 {
			continue
		}
		minLat = math.Min(minLat, d.Box.MinLat)
		maxLat = math.Max(maxLat, d.Box.MaxLat)
		minLng = math.Min(minLng, d.Box.MinLng)
		maxLng = math.Max(maxLng, d.Box.MaxLng)
	}
	box, err := heatmap.NewBoundingBox(minLat, maxLat, minLng, maxLng)
	if err != nil {
		return heatmap.BoundingBox{}, false
	}
	return box, true
}
